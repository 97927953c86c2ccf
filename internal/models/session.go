package models

import (
	"encoding/json"
	"time"
)

// Participant is one live connection's membership in a document room
// Role is resolved once at join time and never recomputed for the lifetime of the connection.
type Participant struct {
	ConnID   string    `json:"connection"`
	UserID   string    `json:"id"`
	Name     string    `json:"name"`
	Avatar   string    `json:"avatar"`
	Color    string    `json:"color"`
	Role     Role      `json:"role"`
	IsOwner  bool      `json:"isOwner"`
	JoinedAt time.Time `json:"joinedAt"`
}

// OwnerPresence marks that the document owner currently has a live connection
type OwnerPresence struct {
	ConnID   string    `json:"connection"`
	UserID   string    `json:"userId"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
	LastSeen time.Time `json:"lastSeen"`
}

// Cursor is the last cursor position reported by a connection
type Cursor struct {
	ConnID string          `json:"connection"`
	UserID string          `json:"userId"`
	Name   string          `json:"name"`
	Color  string          `json:"color"`
	Range  json.RawMessage `json:"range,omitempty"`
	Index  *int            `json:"index,omitempty"`
}
