package collaboration

import (
	"context"

	"collabwrite/internal/models"
)

// DocumentStore is what the hub needs from document persistence
type DocumentStore interface {
	FindByID(ctx context.Context, id string) (*models.Document, error)
	SaveContent(ctx context.Context, id, title, content string) (*models.Document, error)
	AddImage(ctx context.Context, documentID string, image *models.Image) error
	RemoveImage(ctx context.Context, documentID, imageID string) error
}

// UserStore resolves the identity shown to the room
type UserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// TokenVerifier decodes a join token into a user id
type TokenVerifier interface {
	Verify(token string) (string, error)
}
