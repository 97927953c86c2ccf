package collaboration

import (
	"context"
	"encoding/json"
	"time"

	"collabwrite/internal/config"
	"collabwrite/internal/metrics"
	"collabwrite/internal/models"
	"collabwrite/internal/sanitize"

	"go.uber.org/zap"
)

/*
Hub

One goroutine (Run) owns every piece of presence state: the Directory, the WaitingRoom,
and each Client's protocol state. Everything else talks to it through channels:

  - read pumps post inbound frames (Dispatch) and their own exit (Unregister)
  - collaborator calls run in their own goroutines and post a continuation (post)
  - the owner cascade timer and the stale-owner ticker post into the same loop

Handlers therefore run to completion without locks. A continuation must re-check the
client's state before touching anything, since other events ran while it was away.
*/

// Options tunes the hub's timers and buffers
type Options struct {
	CascadeDelay  time.Duration
	SweepInterval time.Duration
	StaleTimeout  time.Duration // 0 disables the stale-owner sweep
	SendBuffer    int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		CascadeDelay:  cfg.OwnerCascadeDelay,
		SweepInterval: cfg.PresenceSweepInterval,
		StaleTimeout:  cfg.OwnerStaleTimeout,
		SendBuffer:    cfg.ClientSendBuffer,
	}
}

type inboundEvent struct {
	client *Client
	env    models.Envelope
}

// Hub routes collaboration events between connections of the same document
type Hub struct {
	docs   DocumentStore
	users  UserStore
	tokens TokenVerifier
	log    *zap.Logger
	opts   Options

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent
	tasks      chan func()
	done       chan struct{}

	// owned by the Run goroutine
	ctx      context.Context
	clients  map[string]*Client
	dir      *Directory
	waiting  *WaitingRoom
	drops    []*Client
	sanitize func(string) string
	now      func() time.Time
}

func NewHub(docs DocumentStore, users UserStore, tokens TokenVerifier, log *zap.Logger, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}

	return &Hub{
		docs:       docs,
		users:      users,
		tokens:     tokens,
		log:        log,
		opts:       opts,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundEvent, 256),
		tasks:      make(chan func(), 64),
		done:       make(chan struct{}),
		ctx:        context.Background(),
		clients:    make(map[string]*Client),
		dir:        NewDirectory(),
		waiting:    NewWaitingRoom(),
		sanitize:   sanitize.HTML,
		now:        time.Now,
	}
}

// Run processes hub events until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	h.ctx = ctx
	sweep := time.NewTicker(h.opts.SweepInterval)
	defer func() {
		sweep.Stop()
		h.closeAll()
		close(h.done)
	}()

	h.log.Info("collaboration hub started",
		zap.Duration("cascade_delay", h.opts.CascadeDelay),
		zap.Duration("stale_timeout", h.opts.StaleTimeout),
	)

	for {
		select {
		case <-ctx.Done():
			h.log.Info("collaboration hub shutting down", zap.Int("connections", len(h.clients)))
			return

		case c := <-h.register:
			h.handleRegister(c)

		case c := <-h.unregister:
			h.disconnect(c, "transport closed")

		case ev := <-h.inbound:
			h.route(ev.client, ev.env)

		case fn := <-h.tasks:
			fn()

		case <-sweep.C:
			h.sweepStaleOwners()
		}

		h.flushDrops()
		h.recordPresence()
	}
}

// Register attaches c to the hub. The caller starts the pumps afterwards.
func (h *Hub) Register(c *Client) bool {
	c.hub = h
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Dispatch queues an inbound frame from c
func (h *Hub) Dispatch(c *Client, env models.Envelope) {
	select {
	case h.inbound <- inboundEvent{client: c, env: env}:
	case <-h.done:
	}
}

// post queues fn to run on the hub goroutine; false once the hub has stopped
func (h *Hub) post(fn func()) bool {
	select {
	case h.tasks <- fn:
		return true
	case <-h.done:
		return false
	}
}

// do runs fn on the hub goroutine and waits for it
func (h *Hub) do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	ok := h.post(func() {
		fn()
		close(ran)
	})
	if !ok {
		return context.Canceled
	}

	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return context.Canceled
	}
}

// async runs a collaborator call off the hub goroutine
func (h *Hub) async(fn func(ctx context.Context)) {
	ctx := h.ctx
	go fn(ctx)
}

func (h *Hub) handleRegister(c *Client) {
	c.state = stateConnected
	h.clients[c.ID] = c
	h.log.Debug("connection registered", zap.String("conn_id", c.ID))
}

// disconnect runs the transport-disconnect transition and releases c
func (h *Hub) disconnect(c *Client, reason string) {
	if _, ok := h.clients[c.ID]; !ok || c.state == stateClosed {
		return
	}

	h.log.Debug("connection closed",
		zap.String("conn_id", c.ID),
		zap.String("user_id", c.userID),
		zap.String("document_id", c.documentID),
		zap.String("reason", reason),
		zap.Duration("connected_for", time.Since(c.connectedAt)),
	)

	h.leave(c, true)
	c.state = stateClosed
	delete(h.clients, c.ID)
	close(c.send)
}

// drop closes a connection that cannot keep up or has gone silent
func (h *Hub) drop(c *Client, reason string) {
	h.disconnect(c, reason)
	c.closeTransport()
}

func (h *Hub) flushDrops() {
	for len(h.drops) > 0 {
		c := h.drops[0]
		h.drops = h.drops[1:]
		h.log.Warn("dropping connection", zap.String("conn_id", c.ID), zap.String("reason", "send buffer full"))
		h.drop(c, "send buffer full")
	}
}

func (h *Hub) closeAll() {
	for id, c := range h.clients {
		c.state = stateClosed
		close(c.send)
		delete(h.clients, id)
	}
}

func (h *Hub) recordPresence() {
	connected := 0
	for _, c := range h.clients {
		if c.state != stateClosed {
			connected++
		}
	}
	metrics.RecordPresence(metrics.PresenceSnapshot{
		Rooms:        h.dir.RoomCount(),
		Participants: h.dir.ParticipantCount(),
		Waiting:      h.waiting.Total(),
		Connections:  connected,
	})
}

func encode(event models.EventType, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(models.Envelope{Event: event, Data: data})
}

func (h *Hub) deliver(c *Client, frame []byte) {
	if c == nil || c.state == stateClosed || c.dropping {
		return
	}
	if !c.enqueue(frame) {
		c.dropping = true
		h.drops = append(h.drops, c)
	}
}

// emit sends one event to a single connection
func (h *Hub) emit(c *Client, event models.EventType, payload interface{}) {
	frame, err := encode(event, payload)
	if err != nil {
		h.log.Error("failed to encode event", zap.String("event", string(event)), zap.Error(err))
		return
	}
	h.deliver(c, frame)
}

// emitError reports err to c as an error event
func (h *Hub) emitError(c *Client, err error) {
	h.emit(c, models.EventError, models.ErrorPayload{Message: clientMessage(err)})
}

// broadcast sends one event to every connection in the document's room except exceptConn
func (h *Hub) broadcast(documentID string, event models.EventType, payload interface{}, exceptConn string) {
	frame, err := encode(event, payload)
	if err != nil {
		h.log.Error("failed to encode event", zap.String("event", string(event)), zap.Error(err))
		return
	}
	for _, connID := range h.dir.ConnIDs(documentID) {
		if connID == exceptConn {
			continue
		}
		h.deliver(h.clients[connID], frame)
	}
}

// RoomSnapshot is a read-only view of one document's presence
type RoomSnapshot struct {
	DocumentID   string               `json:"documentId"`
	Participants []models.Participant `json:"participants"`
	OwnerOnline  bool                 `json:"ownerOnline"`
	Waiting      int                  `json:"waiting"`
}

// Presence returns who is connected to documentID right now
func (h *Hub) Presence(ctx context.Context, documentID string) (*RoomSnapshot, error) {
	snap := &RoomSnapshot{DocumentID: documentID, Participants: []models.Participant{}}
	err := h.do(ctx, func() {
		for _, p := range h.dir.Participants(documentID) {
			snap.Participants = append(snap.Participants, *p)
		}
		snap.OwnerOnline = h.dir.OwnerOnline(documentID)
		snap.Waiting = h.waiting.Len(documentID)
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
