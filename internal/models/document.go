package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// Role is a user's permission level on a document
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
	RoleNone   Role = ""
)

// Valid reports whether r can be granted to a collaborator or a share link
func (r Role) Valid() bool {
	return r == RoleEditor || r == RoleViewer
}

const DefaultDocumentTitle = "Untitled Document"

// Document is a rich-text document owned by one user and shared with collaborators
// Content is the serialized editor HTML; the server never merges it, it stores full snapshots.
type Document struct {
	ID              string         `json:"id" gorm:"type:char(27);primaryKey"`
	Title           string         `json:"title" gorm:"type:text;not null;default:'Untitled Document'"`
	Content         string         `json:"content" gorm:"type:text;not null;default:''"`
	OwnerID         string         `json:"owner_id" gorm:"type:char(27);not null;index"`
	Owner           *User          `json:"owner,omitempty" gorm:"foreignKey:OwnerID;references:ID"`
	Collaborators   []Collaborator `json:"collaborators" gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
	Images          []Image        `json:"images" gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
	IsPublic        bool           `json:"is_public" gorm:"not null;default:false"`
	ShareToken      *string        `json:"-" gorm:"type:varchar(64);uniqueIndex"`
	SharePermission Role           `json:"share_permission" gorm:"type:varchar(16);not null;default:'viewer'"`
	CreatedAt       time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt       gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"column:deleted_at;index"`
}

// BeforeCreate hook generates KSUID before inserting
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = ksuid.New().String()
	}
	if d.Title == "" {
		d.Title = DefaultDocumentTitle
	}
	if d.SharePermission == RoleNone {
		d.SharePermission = RoleViewer
	}
	return nil
}

// Collaborator grants a non-owner user a role on a document
type Collaborator struct {
	ID         string    `json:"id" gorm:"type:char(27);primaryKey"`
	DocumentID string    `json:"document_id" gorm:"type:char(27);not null;uniqueIndex:idx_collab_doc_user"`
	UserID     string    `json:"user_id" gorm:"type:char(27);not null;uniqueIndex:idx_collab_doc_user"`
	User       *User     `json:"user,omitempty" gorm:"foreignKey:UserID;references:ID"`
	Role       Role      `json:"role" gorm:"type:varchar(16);not null;default:'viewer'"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (c *Collaborator) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = ksuid.New().String()
	}
	return nil
}

// Image is an embedded picture attached to a document by its owner
type Image struct {
	ID         string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	DocumentID string    `json:"document_id" gorm:"type:char(27);not null;index"`
	URL        string    `json:"url" gorm:"type:text;not null"`
	Name       string    `json:"name" gorm:"type:text"`
	UploadedBy string    `json:"uploaded_by" gorm:"type:char(27)"`
	UploadedAt time.Time `json:"uploaded_at"`
}

func (i *Image) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.UploadedAt.IsZero() {
		i.UploadedAt = time.Now()
	}
	return nil
}

type DocumentCreate struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type DocumentUpdate struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

// ShareRequest adds or updates a collaborator by email
type ShareRequest struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

type ShareLinkRequest struct {
	Permission Role `json:"permission"`
}
