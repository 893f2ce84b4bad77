package models

import (
	"sort"
	"strings"
	"time"
)

// Profile holds the onboarding answers used to personalise generations.
type Profile struct {
	Platforms []string  `json:"platforms"`
	Niche     string    `json:"niche"`
	Followers int       `json:"followers"`
	Goal      string    `json:"goal"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Normalize turns Platforms into a sorted set and clamps Followers at zero.
func (p *Profile) Normalize() {
	seen := make(map[string]struct{}, len(p.Platforms))
	platforms := make([]string, 0, len(p.Platforms))
	for _, platform := range p.Platforms {
		platform = strings.ToLower(strings.TrimSpace(platform))
		if platform == "" {
			continue
		}
		if _, ok := seen[platform]; ok {
			continue
		}
		seen[platform] = struct{}{}
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)
	p.Platforms = platforms
	if p.Followers < 0 {
		p.Followers = 0
	}
}

// Preferences are device-level settings that are never synced.
type Preferences struct {
	Tone          string `json:"tone"`
	Language      string `json:"language"`
	Notifications bool   `json:"notifications"`
}

// DefaultPreferences returns the preferences of a fresh install.
func DefaultPreferences() Preferences {
	return Preferences{
		Tone:          "casual",
		Language:      "en",
		Notifications: true,
	}
}
