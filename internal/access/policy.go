// Package access decides what a user may do with a document.
package access

import "collabwrite/internal/models"

// ResolveRole returns the user's role on doc, and false when the user has no access at all
func ResolveRole(doc *models.Document, userID string) (models.Role, bool) {
	if doc == nil || userID == "" {
		return models.RoleNone, false
	}

	if doc.OwnerID == userID {
		return models.RoleOwner, true
	}

	for _, c := range doc.Collaborators {
		if c.UserID == userID && c.Role.Valid() {
			return c.Role, true
		}
	}

	if doc.IsPublic && doc.SharePermission.Valid() {
		return doc.SharePermission, true
	}

	return models.RoleNone, false
}

// CanEdit reports whether the role may change document content
func CanEdit(role models.Role) bool {
	return role == models.RoleOwner || role == models.RoleEditor
}

// Label is the human readable role name used in room notices
func Label(role models.Role) string {
	switch role {
	case models.RoleOwner:
		return "Owner"
	case models.RoleEditor:
		return "Editor"
	case models.RoleViewer:
		return "Viewer"
	default:
		return "Guest"
	}
}
