package models

import (
	"encoding/json"
	"time"
)

type ItemType string

const (
	HookItem     ItemType = "hook"
	ScriptItem   ItemType = "script"
	CaptionItem  ItemType = "caption"
	CalendarItem ItemType = "calendar"
	RewriteItem  ItemType = "rewrite"
	ImageItem    ItemType = "image"
)

// Valid reports whether t is one of the known artifact types.
func (t ItemType) Valid() bool {
	switch t {
	case HookItem, ScriptItem, CaptionItem, CalendarItem, RewriteItem, ImageItem:
		return true
	}
	return false
}

// SavedItem is an immutable record of a generated artifact.
type SavedItem struct {
	ID        string          `json:"id"`
	Type      ItemType        `json:"type"`
	Title     string          `json:"title"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
