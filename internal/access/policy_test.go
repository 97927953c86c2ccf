package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"collabwrite/internal/models"
)

func sampleDocument() *models.Document {
	return &models.Document{
		ID:      "doc-1",
		OwnerID: "owner",
		Collaborators: []models.Collaborator{
			{UserID: "editor", Role: models.RoleEditor},
			{UserID: "viewer", Role: models.RoleViewer},
		},
		SharePermission: models.RoleEditor,
	}
}

func TestResolveRole(t *testing.T) {
	doc := sampleDocument()

	tests := []struct {
		name       string
		userID     string
		public     bool
		wantRole   models.Role
		wantAccess bool
	}{
		{name: "owner", userID: "owner", wantRole: models.RoleOwner, wantAccess: true},
		{name: "editor collaborator", userID: "editor", wantRole: models.RoleEditor, wantAccess: true},
		{name: "viewer collaborator", userID: "viewer", wantRole: models.RoleViewer, wantAccess: true},
		{name: "stranger on private doc", userID: "stranger", wantRole: models.RoleNone, wantAccess: false},
		{name: "stranger on public doc", userID: "stranger", public: true, wantRole: models.RoleEditor, wantAccess: true},
		{name: "collaborator wins over public permission", userID: "viewer", public: true, wantRole: models.RoleViewer, wantAccess: true},
		{name: "empty user", userID: "", public: true, wantRole: models.RoleNone, wantAccess: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc.IsPublic = tt.public
			role, ok := ResolveRole(doc, tt.userID)
			assert.Equal(t, tt.wantRole, role)
			assert.Equal(t, tt.wantAccess, ok)
		})
	}
}

func TestResolveRoleNilDocument(t *testing.T) {
	role, ok := ResolveRole(nil, "owner")
	assert.False(t, ok)
	assert.Equal(t, models.RoleNone, role)
}

func TestCanEditAndLabel(t *testing.T) {
	assert.True(t, CanEdit(models.RoleOwner))
	assert.True(t, CanEdit(models.RoleEditor))
	assert.False(t, CanEdit(models.RoleViewer))
	assert.False(t, CanEdit(models.RoleNone))

	assert.Equal(t, "Owner", Label(models.RoleOwner))
	assert.Equal(t, "Editor", Label(models.RoleEditor))
	assert.Equal(t, "Viewer", Label(models.RoleViewer))
}
