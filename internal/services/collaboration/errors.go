package collaboration

import (
	"errors"

	"collabwrite/internal/repository"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrDocumentNotFound = errors.New("document not found")
	ErrAccessDenied     = errors.New("access denied")
	ErrOwnerOffline     = errors.New("document owner is offline")
	ErrPersistence      = errors.New("failed to persist document change")
	ErrUserNotFound     = errors.New("user not found")
	ErrNotOwner         = errors.New("only the document owner can do that")
	ErrReadOnly         = errors.New("viewers cannot edit this document")
	ErrNotJoined        = errors.New("not joined to this document")
	ErrImageNotFound    = errors.New("image not found")
	ErrBadPayload       = errors.New("malformed message")
)

// clientMessages are the texts shown to users for each error kind
var clientMessages = map[error]string{
	ErrInvalidToken:     "Invalid token",
	ErrDocumentNotFound: "Document not found",
	ErrAccessDenied:     "Access denied",
	ErrOwnerOffline:     "The document owner is offline. You will join automatically once they are back.",
	ErrPersistence:      "Failed to save changes",
	ErrUserNotFound:     "User not found",
	ErrNotOwner:         "Only the document owner can do that",
	ErrReadOnly:         "You have view-only access to this document",
	ErrNotJoined:        "You are not connected to this document",
	ErrImageNotFound:    "Image not found",
	ErrBadPayload:       "Malformed message",
}

// clientMessage converts err into the short message sent in error payloads
func clientMessage(err error) string {
	for kind, msg := range clientMessages {
		if errors.Is(err, kind) {
			return msg
		}
	}
	return "Something went wrong"
}

// lookupError classifies a collaborator lookup failure
func lookupError(err, notFound error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return errors.Join(ErrPersistence, err)
}
