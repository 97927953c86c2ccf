package api

import (
	"context"

	"collabwrite/internal/models"
	"collabwrite/internal/services/collaboration"
)

/*
CONSUMER-DRIVEN INTERFACES

The handlers declare only the methods they call. The repository package returns concrete
types; tests substitute SQLite-backed repositories or small fakes.
*/

// DocumentRepository is what the document endpoints need from storage
type DocumentRepository interface {
	Create(ctx context.Context, ownerID string, in *models.DocumentCreate) (*models.Document, error)
	FindByID(ctx context.Context, id string) (*models.Document, error)
	FindByShareToken(ctx context.Context, token string) (*models.Document, error)
	ListOwned(ctx context.Context, ownerID string) ([]*models.Document, error)
	Update(ctx context.Context, id string, update *models.DocumentUpdate) (*models.Document, error)
	Delete(ctx context.Context, id string) error
	Share(ctx context.Context, documentID, userID string, role models.Role) error
	Unshare(ctx context.Context, documentID, userID string) error
	SetShareLink(ctx context.Context, documentID, token string, permission models.Role) error
}

// UserRepository is what the auth endpoints need from storage
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

// TokenIssuer signs and checks login tokens
type TokenIssuer interface {
	Issue(userID string) (string, error)
	Verify(token string) (string, error)
}

// PresenceReader reports who is connected to a document
type PresenceReader interface {
	Presence(ctx context.Context, documentID string) (*collaboration.RoomSnapshot, error)
}
