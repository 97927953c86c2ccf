package collaboration

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"collabwrite/internal/models"
	"collabwrite/internal/repository"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	docID      = "doc-1"
	ownerID    = "owner"
	editorID   = "editor"
	viewerID   = "viewer"
	strangerID = "stranger"
)

type fakeDocs struct {
	mu      sync.Mutex
	docs    map[string]*models.Document
	saves   int
	saveErr error
	gate    chan struct{}
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: map[string]*models.Document{
		docID: {
			ID:        docID,
			Title:     "Old",
			Content:   "X",
			OwnerID:   ownerID,
			UpdatedAt: time.Now().Add(-time.Hour),
			Collaborators: []models.Collaborator{
				{DocumentID: docID, UserID: editorID, Role: models.RoleEditor},
				{DocumentID: docID, UserID: viewerID, Role: models.RoleViewer},
			},
		},
	}}
}

// block makes document lookups wait until the returned func is called
func (f *fakeDocs) block() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate
	return func() {
		f.mu.Lock()
		f.gate = nil
		f.mu.Unlock()
		close(gate)
	}
}

func (f *fakeDocs) FindByID(ctx context.Context, id string) (*models.Document, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *doc
	cp.Images = append([]models.Image(nil), doc.Images...)
	return &cp, nil
}

func (f *fakeDocs) SaveContent(ctx context.Context, id, title, content string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	f.saves++
	doc.Title = title
	doc.Content = content
	doc.UpdatedAt = time.Now()
	cp := *doc
	return &cp, nil
}

func (f *fakeDocs) AddImage(ctx context.Context, documentID string, image *models.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[documentID]
	if !ok {
		return repository.ErrNotFound
	}
	image.ID = uuid.NewString()
	image.DocumentID = documentID
	image.UploadedAt = time.Now()
	doc.Images = append(doc.Images, *image)
	return nil
}

func (f *fakeDocs) RemoveImage(ctx context.Context, documentID, imageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[documentID]
	if !ok {
		return repository.ErrNotFound
	}
	for i, img := range doc.Images {
		if img.ID == imageID {
			doc.Images = append(doc.Images[:i], doc.Images[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeDocs) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func (f *fakeDocs) setSaveErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveErr = err
}

type fakeUsers map[string]*models.User

func (f fakeUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

var testUsers = fakeUsers{
	ownerID:    {ID: ownerID, Name: "Olivia", Avatar: "o.png"},
	editorID:   {ID: editorID, Name: "Eli", Avatar: "e.png"},
	viewerID:   {ID: viewerID, Name: "Vic", Avatar: "v.png"},
	strangerID: {ID: strangerID, Name: "Sam", Avatar: "s.png"},
}

// fakeTokens accepts "tok-<userID>"
type fakeTokens struct{}

func (fakeTokens) Verify(token string) (string, error) {
	if id, ok := strings.CutPrefix(token, "tok-"); ok && id != "" {
		return id, nil
	}
	return "", ErrInvalidToken
}

func token(userID string) string { return "tok-" + userID }

func testOptions() Options {
	return Options{
		CascadeDelay:  20 * time.Millisecond,
		SweepInterval: time.Hour,
		SendBuffer:    64,
	}
}

func newHub(docs *fakeDocs, opts Options) *Hub {
	return NewHub(docs, testUsers, fakeTokens{}, zap.NewNop(), opts)
}

func startHub(t *testing.T, h *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
}

func newTestHub(t *testing.T, docs *fakeDocs) *Hub {
	h := newHub(docs, testOptions())
	startHub(t, h)
	return h
}

// connect registers a detached client whose frames stay on its send channel
func connect(t *testing.T, h *Hub) *Client {
	t.Helper()
	return connectWithBuffer(t, h, 64)
}

func connectWithBuffer(t *testing.T, h *Hub, buffer int) *Client {
	t.Helper()
	c := NewClient(nil, buffer)
	require.True(t, h.Register(c))
	return c
}

func send(t *testing.T, h *Hub, c *Client, event models.EventType, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	h.Dispatch(c, models.Envelope{Event: event, Data: data})
}

// join sends join-document and waits for the expected reply
func join(t *testing.T, h *Hub, c *Client, userID string, expect models.EventType) models.Envelope {
	t.Helper()
	send(t, h, c, models.EventJoinDocument, models.JoinDocumentPayload{DocumentID: docID, Token: token(userID)})
	return waitFor(t, c, expect)
}

// waitFor reads frames until one carries event, failing after a second
func waitFor(t *testing.T, c *Client, event models.EventType) models.Envelope {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case frame, ok := <-c.send:
			require.True(t, ok, "connection closed while waiting for %s", event)
			var env models.Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			if env.Event == event {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

// assertNoEvent fails if event arrives on c within wait
func assertNoEvent(t *testing.T, c *Client, event models.EventType, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			var env models.Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			require.NotEqual(t, event, env.Event, "unexpected %s: %s", event, env.Data)
		case <-deadline:
			return
		}
	}
}

func payload[T any](t *testing.T, env models.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

// inspect runs fn on the hub goroutine
func inspect(t *testing.T, h *Hub, fn func()) {
	t.Helper()
	require.NoError(t, h.do(context.Background(), fn))
}

func stateOf(t *testing.T, h *Hub, c *Client) connState {
	t.Helper()
	var s connState
	inspect(t, h, func() { s = c.state })
	return s
}

// eventCount reads the collaboration event counter for one event and outcome
func eventCount(t *testing.T, event models.EventType, outcome string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "collabwrite_collab_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["event"] == string(event) && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
