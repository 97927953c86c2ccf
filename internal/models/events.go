package models

import (
	"encoding/json"
	"time"
)

// EventType names a message on the collaboration socket
type EventType string

// Client -> server
const (
	EventJoinDocument  EventType = "join-document"
	EventLeaveDocument EventType = "leave-document"
	EventTextChange    EventType = "text-change"
	EventCursorMove    EventType = "cursor-move"
	EventTyping        EventType = "typing"
	EventSaveDocument  EventType = "save-document"
	EventImageUpload   EventType = "image-upload"
	EventImageRemove   EventType = "image-remove"
	EventHeartbeat     EventType = "heartbeat"
)

// Server -> client
const (
	EventDocumentLoaded    EventType = "document-loaded"
	EventOwnerOffline      EventType = "owner-offline"
	EventOwnerOnline       EventType = "owner-online"
	EventError             EventType = "error"
	EventUsersUpdate       EventType = "users-update"
	EventUserJoined        EventType = "user-joined"
	EventUserLeft          EventType = "user-left"
	EventCursorUpdate      EventType = "cursor-update"
	EventCursorsUpdate     EventType = "cursors-update"
	EventCursorRemoved     EventType = "cursor-removed"
	EventUserTyping        EventType = "user-typing"
	EventDocumentSaved     EventType = "document-saved"
	EventDocumentUpdated   EventType = "document-updated"
	EventImageAdded        EventType = "image-added"
	EventImageRemoved      EventType = "image-removed"
	EventOwnerDisconnected EventType = "owner-disconnected"
	EventHeartbeatAck      EventType = "heartbeat-ack"
)

// Envelope is the JSON frame exchanged over the websocket
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound payloads

type JoinDocumentPayload struct {
	DocumentID string `json:"documentId"`
	Token      string `json:"token"`
}

type DocumentRef struct {
	DocumentID string `json:"documentId"`
}

// UnmarshalJSON accepts both {"documentId": "..."} and a bare "..." string
func (d *DocumentRef) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		d.DocumentID = id
		return nil
	}
	type plain DocumentRef
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = DocumentRef(p)
	return nil
}

type TextChangePayload struct {
	DocumentID string          `json:"documentId"`
	Content    string          `json:"content"`
	Delta      json.RawMessage `json:"delta,omitempty"`
}

type CursorMovePayload struct {
	DocumentID string          `json:"documentId"`
	Range      json.RawMessage `json:"range,omitempty"`
	Index      *int            `json:"index,omitempty"`
}

type TypingPayload struct {
	DocumentID string `json:"documentId"`
	IsTyping   bool   `json:"isTyping"`
}

type SaveDocumentPayload struct {
	DocumentID string  `json:"documentId"`
	Content    *string `json:"content,omitempty"`
	Title      *string `json:"title,omitempty"`
}

type ImageData struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

type ImageUploadPayload struct {
	DocumentID string    `json:"documentId"`
	ImageData  ImageData `json:"imageData"`
}

type ImageRemovePayload struct {
	DocumentID string `json:"documentId"`
	ImageID    string `json:"imageId"`
}

// Outbound payloads

type DocumentLoaded struct {
	DocumentID  string    `json:"documentId"`
	Content     string    `json:"content"`
	Title       string    `json:"title"`
	UpdatedAt   time.Time `json:"updatedAt"`
	IsOwner     bool      `json:"isOwner"`
	OwnerID     string    `json:"ownerId"`
	UserRole    Role      `json:"userRole"`
	Images      []Image   `json:"images"`
	OwnerOnline bool      `json:"ownerOnline"`
	Connected   bool      `json:"connected"`
}

type Notice struct {
	DocumentID string `json:"documentId,omitempty"`
	Message    string `json:"message"`
}

type OwnerOnline struct {
	DocumentID string `json:"documentId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type UsersUpdate struct {
	DocumentID   string         `json:"documentId"`
	Participants []*Participant `json:"participants"`
}

type UserPresenceNotice struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

type TextChange struct {
	Content    string          `json:"content"`
	Delta      json.RawMessage `json:"delta,omitempty"`
	UserID     string          `json:"userId"`
	Connection string          `json:"connection"`
}

type CursorsUpdate struct {
	Cursors []*Cursor `json:"cursors"`
}

type CursorRemoved struct {
	Connection string `json:"connection"`
}

type UserTyping struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	IsTyping bool   `json:"isTyping"`
}

type DocumentSaved struct {
	Success   bool       `json:"success"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type DocumentUpdated struct {
	UpdatedAt time.Time `json:"updatedAt"`
}

type ImageAdded struct {
	Image Image `json:"image"`
}

type ImageRemoved struct {
	ImageID string `json:"imageId"`
}

type HeartbeatAck struct{}
