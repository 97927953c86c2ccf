package repository

import (
	"context"
	"errors"
	"fmt"

	"collabwrite/internal/models"

	"gorm.io/gorm"
)

// ErrNotFound is returned when the requested row does not exist (or is soft-deleted)
var ErrNotFound = errors.New("record not found")

// DocumentRepositoryImpl handles all database operations for documents using GORM
// The consumers (collaboration hub, HTTP handlers) declare the interfaces they need.
type DocumentRepositoryImpl struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *gorm.DB) *DocumentRepositoryImpl {
	return &DocumentRepositoryImpl{db: db}
}

// withRelations preloads owner, collaborator identities and images
func withRelations(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Owner").
		Preload("Collaborators.User").
		Preload("Images", func(tx *gorm.DB) *gorm.DB { return tx.Order("uploaded_at ASC") })
}

// Create inserts a new document owned by ownerID
func (r *DocumentRepositoryImpl) Create(ctx context.Context, ownerID string, in *models.DocumentCreate) (*models.Document, error) {
	document := &models.Document{
		Title:   in.Title,
		Content: in.Content,
		OwnerID: ownerID,
	}

	if err := r.db.WithContext(ctx).Create(document).Error; err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	return r.FindByID(ctx, document.ID)
}

// FindByID retrieves a document with its owner, collaborators and images
func (r *DocumentRepositoryImpl) FindByID(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document

	err := withRelations(r.db.WithContext(ctx)).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

// FindByShareToken resolves a public share link
func (r *DocumentRepositoryImpl) FindByShareToken(ctx context.Context, token string) (*models.Document, error) {
	var doc models.Document

	err := withRelations(r.db.WithContext(ctx)).
		First(&doc, "share_token = ? AND is_public = ?", token, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shared document: %w", err)
	}

	return &doc, nil
}

// ListOwned returns the documents owned by a user, most recently updated first
func (r *DocumentRepositoryImpl) ListOwned(ctx context.Context, ownerID string) ([]*models.Document, error) {
	var documents []*models.Document

	err := withRelations(r.db.WithContext(ctx)).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Find(&documents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	return documents, nil
}

// Update applies the non-nil fields of update
func (r *DocumentRepositoryImpl) Update(ctx context.Context, id string, update *models.DocumentUpdate) (*models.Document, error) {
	updates := make(map[string]interface{})
	if update.Title != nil {
		updates["title"] = *update.Title
	}
	if update.Content != nil {
		updates["content"] = *update.Content
	}

	if len(updates) > 0 {
		if err := r.updateColumns(ctx, id, updates); err != nil {
			return nil, err
		}
	}

	return r.FindByID(ctx, id)
}

// SaveContent persists a collaborative save of title and content
func (r *DocumentRepositoryImpl) SaveContent(ctx context.Context, id, title, content string) (*models.Document, error) {
	if err := r.updateColumns(ctx, id, map[string]interface{}{
		"title":   title,
		"content": content,
	}); err != nil {
		return nil, err
	}
	return r.FindByID(ctx, id)
}

func (r *DocumentRepositoryImpl) updateColumns(ctx context.Context, id string, updates map[string]interface{}) error {
	// UpdatedAt is set by GORM because the model declares autoUpdateTime
	result := r.db.WithContext(ctx).Model(&models.Document{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update document: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete performs a soft delete on the document
func (r *DocumentRepositoryImpl) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.Document{}, "id = ?", id)

	if result.Error != nil {
		return fmt.Errorf("failed to delete document: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Share grants userID the role on the document, replacing an existing grant
func (r *DocumentRepositoryImpl) Share(ctx context.Context, documentID, userID string, role models.Role) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Collaborator
		err := tx.Where("document_id = ? AND user_id = ?", documentID, userID).First(&existing).Error
		switch {
		case err == nil:
			if err := tx.Model(&existing).Update("role", role).Error; err != nil {
				return fmt.Errorf("failed to update collaborator: %w", err)
			}
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			c := &models.Collaborator{DocumentID: documentID, UserID: userID, Role: role}
			if err := tx.Create(c).Error; err != nil {
				return fmt.Errorf("failed to add collaborator: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("failed to look up collaborator: %w", err)
		}
	})
}

// Unshare revokes a collaborator's access
func (r *DocumentRepositoryImpl) Unshare(ctx context.Context, documentID, userID string) error {
	result := r.db.WithContext(ctx).
		Where("document_id = ? AND user_id = ?", documentID, userID).
		Delete(&models.Collaborator{})
	if result.Error != nil {
		return fmt.Errorf("failed to remove collaborator: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetShareLink makes the document public under token with the given permission
func (r *DocumentRepositoryImpl) SetShareLink(ctx context.Context, documentID, token string, permission models.Role) error {
	return r.updateColumns(ctx, documentID, map[string]interface{}{
		"share_token":      token,
		"share_permission": permission,
		"is_public":        true,
	})
}

// AddImage attaches an image to the document
func (r *DocumentRepositoryImpl) AddImage(ctx context.Context, documentID string, image *models.Image) error {
	image.DocumentID = documentID
	if err := r.db.WithContext(ctx).Create(image).Error; err != nil {
		return fmt.Errorf("failed to add image: %w", err)
	}
	return nil
}

// RemoveImage detaches an image from the document
func (r *DocumentRepositoryImpl) RemoveImage(ctx context.Context, documentID, imageID string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND document_id = ?", imageID, documentID).
		Delete(&models.Image{})
	if result.Error != nil {
		return fmt.Errorf("failed to remove image: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
