package models

// QuotaKind is a scarce resource counted per day.
type QuotaKind string

const (
	TextQuota  QuotaKind = "text"
	ImageQuota QuotaKind = "image"
)

// Valid reports whether k is a known quota kind.
func (k QuotaKind) Valid() bool {
	return k == TextQuota || k == ImageQuota
}

// QuotaCounter is the usage of one kind on one calendar day.
// Day is formatted as "2006-01-02" in the engine's location.
type QuotaCounter struct {
	Kind  QuotaKind `json:"kind"`
	Day   string    `json:"day"`
	Count int       `json:"count"`
	IsPro bool      `json:"is_pro"`
}

// Usage is the view of a counter exposed to callers.
type Usage struct {
	Kind      QuotaKind `json:"kind"`
	Count     int       `json:"count"`
	Max       int       `json:"max"`
	Remaining int       `json:"remaining"`
	IsPro     bool      `json:"is_pro"`
}
