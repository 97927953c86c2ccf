package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"collabwrite/internal/auth"
	"collabwrite/internal/middleware"
	"collabwrite/internal/models"
	"collabwrite/internal/repository"
	"collabwrite/internal/services/collaboration"
	"collabwrite/internal/testhelpers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePresence struct{}

func (fakePresence) Presence(ctx context.Context, documentID string) (*collaboration.RoomSnapshot, error) {
	return &collaboration.RoomSnapshot{
		DocumentID:   documentID,
		Participants: []models.Participant{{UserID: "u1", Name: "Olive"}},
		OwnerOnline:  true,
	}, nil
}

type testServer struct {
	t      *testing.T
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	return newLimitedTestServer(t, RouteConfig{AllowedOrigin: "http://localhost:3000"})
}

func newLimitedTestServer(t *testing.T, rc RouteConfig) *testServer {
	gdb := testhelpers.SetupTestDB(t)
	h := NewHandler(
		repository.NewDocumentRepository(gdb),
		repository.NewUserRepository(gdb),
		auth.NewTokenManager("test-secret", time.Hour),
		fakePresence{},
		"http://localhost:3000/",
		zap.NewNop(),
	)
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	return &testServer{t: t, router: SetupRoutes(h, ws, rc, zap.NewNop())}
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type documentResponse struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message"`
	Document *models.Document `json:"document"`
	Role     models.Role      `json:"role"`
}

// register creates an account and returns its token and id
func (s *testServer) register(name, email string) (string, string) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/auth/register", "", models.RegisterRequest{Name: name, Email: email, Password: "secret123"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[models.AuthResponse](s.t, rec)
	return res.Token, res.User.ID
}

func (s *testServer) createDocument(token, title string) *models.Document {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/documents", token, models.DocumentCreate{Title: title})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[documentResponse](s.t, rec).Document
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)

	token, id := s.register("Olive", "Olive@Example.com")
	assert.NotEmpty(t, token)

	t.Run("duplicate email", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/register", "", models.RegisterRequest{Name: "Other", Email: "olive@example.com", Password: "secret123"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("validation", func(t *testing.T) {
		cases := []models.RegisterRequest{
			{Name: "", Email: "a@example.com", Password: "secret123"},
			{Name: "A", Email: "not-an-email", Password: "secret123"},
			{Name: "A", Email: "a@example.com", Password: "123"},
		}
		for _, c := range cases {
			rec := s.do(http.MethodPost, "/api/auth/register", "", c)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		}
	})

	t.Run("login", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/login", "", models.LoginRequest{Email: "olive@example.com", Password: "secret123"})
		require.Equal(t, http.StatusOK, rec.Code)
		res := decodeBody[models.AuthResponse](t, rec)
		assert.True(t, res.Success)
		assert.Equal(t, id, res.User.ID)

		rec = s.do(http.MethodPost, "/api/auth/login", "", models.LoginRequest{Email: "olive@example.com", Password: "wrong"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = s.do(http.MethodPost, "/api/auth/login", "", models.LoginRequest{Email: "nobody@example.com", Password: "secret123"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("me", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/auth/me", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		me := decodeBody[models.PublicUser](t, rec)
		assert.Equal(t, "olive@example.com", me.Email)
		assert.Contains(t, me.Avatar, "ui-avatars.com")

		rec = s.do(http.MethodGet, "/api/auth/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = s.do(http.MethodGet, "/api/auth/me", "garbage", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestDocumentAccessRules(t *testing.T) {
	s := newTestServer(t)
	owner, _ := s.register("Olive", "olive@example.com")
	editor, editorID := s.register("Eli", "eli@example.com")
	viewer, _ := s.register("Vic", "vic@example.com")
	stranger, _ := s.register("Sam", "sam@example.com")

	doc := s.createDocument(owner, "  Plan  ")
	assert.Equal(t, "Plan", doc.Title)
	path := "/api/documents/" + doc.ID

	rec := s.do(http.MethodGet, path, stranger, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, path+"/share", owner, models.ShareRequest{Email: "eli@example.com", Role: models.RoleEditor})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, decodeBody[documentResponse](t, rec).Document.Collaborators, 1)

	rec = s.do(http.MethodPost, path+"/share", owner, models.ShareRequest{Email: "vic@example.com", Role: models.RoleViewer})
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("share validation", func(t *testing.T) {
		rec := s.do(http.MethodPost, path+"/share", owner, models.ShareRequest{Email: "nobody@example.com", Role: models.RoleViewer})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rec = s.do(http.MethodPost, path+"/share", owner, models.ShareRequest{Email: "olive@example.com", Role: models.RoleViewer})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rec = s.do(http.MethodPost, path+"/share", owner, models.ShareRequest{Email: "eli@example.com", Role: models.RoleOwner})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rec = s.do(http.MethodPost, path+"/share", editor, models.ShareRequest{Email: "sam@example.com", Role: models.RoleViewer})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	rec = s.do(http.MethodGet, path, viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RoleViewer, decodeBody[documentResponse](t, rec).Role)

	content := `<p>draft</p><img src=x onerror=alert(1)>`
	rec = s.do(http.MethodPut, path, editor, models.DocumentUpdate{Content: &content})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody[documentResponse](t, rec).Document
	assert.NotContains(t, updated.Content, "onerror")
	assert.Contains(t, updated.Content, "<p>draft</p>")
	assert.Equal(t, "Plan", updated.Title)

	rec = s.do(http.MethodPut, path, viewer, models.DocumentUpdate{Content: &content})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodDelete, path, editor, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodDelete, path+"/share/"+editorID, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodGet, path, editor, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(http.MethodDelete, path+"/share/"+editorID, owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodDelete, path, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodGet, path, owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListDocumentsOnlyOwned(t *testing.T) {
	s := newTestServer(t)
	owner, _ := s.register("Olive", "olive@example.com")
	other, _ := s.register("Eli", "eli@example.com")

	s.createDocument(owner, "One")
	s.createDocument(owner, "")
	s.createDocument(other, "Theirs")

	rec := s.do(http.MethodGet, "/api/documents", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[struct {
		Count     int                `json:"count"`
		Documents []*models.Document `json:"documents"`
	}](t, rec)
	assert.Equal(t, 2, res.Count)

	titles := []string{res.Documents[0].Title, res.Documents[1].Title}
	assert.ElementsMatch(t, []string{"One", models.DefaultDocumentTitle}, titles)
}

func TestShareLink(t *testing.T) {
	s := newTestServer(t)
	owner, _ := s.register("Olive", "olive@example.com")
	stranger, _ := s.register("Sam", "sam@example.com")
	doc := s.createDocument(owner, "Public")

	rec := s.do(http.MethodPost, "/api/documents/"+doc.ID+"/share-link", stranger, models.ShareLinkRequest{Permission: models.RoleEditor})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/documents/"+doc.ID+"/share-link", owner, models.ShareLinkRequest{Permission: models.RoleEditor})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[struct {
		ShareLink  string      `json:"shareLink"`
		Permission models.Role `json:"permission"`
	}](t, rec)
	assert.Equal(t, models.RoleEditor, res.Permission)

	link, err := url.Parse(res.ShareLink)
	require.NoError(t, err)
	assert.Equal(t, "localhost:3000", link.Host)
	assert.Equal(t, "/editor/"+doc.ID, link.Path)
	shareToken := link.Query().Get("token")
	assert.Len(t, shareToken, 64)

	rec = s.do(http.MethodGet, "/api/shared/"+shareToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, doc.ID, decodeBody[documentResponse](t, rec).Document.ID)

	rec = s.do(http.MethodGet, "/api/shared/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A public document grants its share permission to anyone signed in
	rec = s.do(http.MethodGet, "/api/documents/"+doc.ID, stranger, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RoleEditor, decodeBody[documentResponse](t, rec).Role)
}

func TestPresenceEndpoint(t *testing.T) {
	s := newTestServer(t)
	owner, _ := s.register("Olive", "olive@example.com")
	stranger, _ := s.register("Sam", "sam@example.com")
	doc := s.createDocument(owner, "Live")

	rec := s.do(http.MethodGet, "/api/documents/"+doc.ID+"/presence", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[struct {
		Presence collaboration.RoomSnapshot `json:"presence"`
	}](t, rec)
	assert.True(t, res.Presence.OwnerOnline)
	assert.Len(t, res.Presence.Participants, 1)

	rec = s.do(http.MethodGet, "/api/documents/"+doc.ID+"/presence", stranger, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouterPlumbing(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = s.do(http.MethodOptions, "/api/documents", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = s.do(http.MethodGet, "/api/documents", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/ws", "", nil)
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "collabwrite_http_requests_total")
}

func TestLogout(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register("Olive", "olive@example.com")

	rec := s.do(http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "token=;")

	rec = s.do(http.MethodPost, "/api/auth/logout", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRateLimitCountsFailures(t *testing.T) {
	s := newLimitedTestServer(t, RouteConfig{
		AllowedOrigin: "http://localhost:3000",
		AuthLimit:     middleware.RateLimit{Requests: 2, Window: time.Hour, SkipSuccessful: true},
	})
	s.register("Olive", "olive@example.com")

	good := models.LoginRequest{Email: "olive@example.com", Password: "secret123"}
	bad := models.LoginRequest{Email: "olive@example.com", Password: "wrong"}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/auth/login", "", good).Code)
	}
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/auth/login", "", bad).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/auth/login", "", bad).Code)

	rec := s.do(http.MethodPost, "/api/auth/login", "", good)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.False(t, decodeBody[models.AuthResponse](t, rec).Success)

	// documents sit outside the auth limit
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/documents", "", nil).Code)
}

func TestAPIRateLimit(t *testing.T) {
	s := newLimitedTestServer(t, RouteConfig{
		AllowedOrigin: "http://localhost:3000",
		APILimit:      middleware.RateLimit{Requests: 3, Window: time.Hour},
	})

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/health", "", nil).Code)
	}
	rec := s.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// the socket and metrics endpoints are not under /api
	assert.Equal(t, http.StatusTeapot, s.do(http.MethodGet, "/ws", "", nil).Code)
}
