package collaboration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"collabwrite/internal/access"
	"collabwrite/internal/metrics"
	"collabwrite/internal/middleware"
	"collabwrite/internal/models"
	"collabwrite/internal/repository"
	"collabwrite/internal/sanitize"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// eventMalformed is dispatched by the read pump for frames that are not a valid envelope
const eventMalformed models.EventType = "malformed"

type handlerFunc func(h *Hub, c *Client, data json.RawMessage) error

// transitions lists the events each connection state accepts. Anything else is
// rejected without touching presence state.
var transitions = map[connState]map[models.EventType]handlerFunc{
	stateConnected: {
		models.EventJoinDocument:  (*Hub).onJoin,
		models.EventLeaveDocument: (*Hub).onLeave,
		models.EventHeartbeat:     (*Hub).onHeartbeat,
	},
	stateJoinPending: {
		models.EventLeaveDocument: (*Hub).onLeave,
		models.EventHeartbeat:     (*Hub).onHeartbeat,
	},
	stateWaiting: {
		models.EventJoinDocument:  (*Hub).onJoin,
		models.EventLeaveDocument: (*Hub).onLeave,
		models.EventHeartbeat:     (*Hub).onHeartbeat,
	},
	stateActive: {
		models.EventJoinDocument:  (*Hub).onJoin,
		models.EventLeaveDocument: (*Hub).onLeave,
		models.EventTextChange:    (*Hub).onTextChange,
		models.EventCursorMove:    (*Hub).onCursorMove,
		models.EventTyping:        (*Hub).onTyping,
		models.EventSaveDocument:  (*Hub).onSave,
		models.EventImageUpload:   (*Hub).onImageUpload,
		models.EventImageRemove:   (*Hub).onImageRemove,
		models.EventHeartbeat:     (*Hub).onHeartbeat,
	},
}

func (h *Hub) route(c *Client, env models.Envelope) {
	if _, ok := h.clients[c.ID]; !ok || c.state == stateClosed {
		return
	}

	if env.Event == eventMalformed {
		metrics.RecordEvent(string(eventMalformed), "rejected")
		h.emitError(c, ErrBadPayload)
		return
	}

	handler, ok := transitions[c.state][env.Event]
	if !ok {
		metrics.RecordEvent(string(env.Event), "rejected")
		h.emit(c, models.EventError, models.ErrorPayload{
			Message: fmt.Sprintf("%s not allowed while %s", env.Event, c.state),
		})
		return
	}

	h.touchOwner(c)

	if err := handler(h, c, env.Data); err != nil {
		metrics.RecordEvent(string(env.Event), "error")
		h.log.Debug("event rejected",
			zap.String("event", string(env.Event)),
			zap.String("conn_id", c.ID),
			zap.String("document_id", c.documentID),
			zap.Error(err),
		)
		h.emitError(c, err)
		return
	}
	// a join's outcome is recorded once its lookups complete
	if env.Event != models.EventJoinDocument {
		metrics.RecordEvent(string(env.Event), "ok")
	}
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return ErrBadPayload
	}
	return nil
}

// touchOwner refreshes the owner's last-seen time on any event from its connection
func (h *Hub) touchOwner(c *Client) {
	if c.state != stateActive {
		return
	}
	if owner := h.dir.Owner(c.documentID); owner != nil && owner.ConnID == c.ID {
		owner.LastSeen = h.now()
	}
}

// participant returns c's participant in the document named by the payload
func (h *Hub) participant(c *Client, documentID string) (*models.Participant, error) {
	if documentID != "" && documentID != c.documentID {
		return nil, ErrNotJoined
	}
	p := h.dir.Participant(c.documentID, c.ID)
	if p == nil {
		return nil, ErrNotJoined
	}
	return p, nil
}

// Join

type joinResult struct {
	documentID string
	userID     string
	doc        *models.Document
	user       *models.User
	role       models.Role
	err        error
}

func (h *Hub) onJoin(c *Client, data json.RawMessage) error {
	var in models.JoinDocumentPayload
	if err := decode(data, &in); err != nil {
		return err
	}
	if in.DocumentID == "" {
		return ErrDocumentNotFound
	}

	switch c.state {
	case stateActive:
		h.leave(c, false)
	case stateWaiting:
		h.waiting.Dequeue(c.documentID, c.ID)
	}

	c.joinSeq++
	seq := c.joinSeq
	c.state = stateJoinPending
	c.documentID = in.DocumentID

	h.async(func(ctx context.Context) {
		res := h.resolveJoin(ctx, in)
		h.post(func() { h.completeJoin(c, seq, res) })
	})
	return nil
}

// resolveJoin runs the collaborator lookups of a join off the hub goroutine
func (h *Hub) resolveJoin(ctx context.Context, in models.JoinDocumentPayload) joinResult {
	ctx, span := middleware.StartSpan(ctx, "Hub.ResolveJoin",
		attribute.String("document.id", in.DocumentID),
	)
	defer span.End()

	res := joinResult{documentID: in.DocumentID}

	userID, err := h.tokens.Verify(in.Token)
	if err != nil || userID == "" {
		res.err = ErrInvalidToken
		return res
	}
	res.userID = userID

	doc, err := h.docs.FindByID(ctx, in.DocumentID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		res.err = lookupError(err, ErrDocumentNotFound)
		return res
	}
	res.doc = doc

	role, ok := access.ResolveRole(doc, userID)
	if !ok {
		middleware.AddSpanEvent(ctx, "access.denied", attribute.String("user.id", userID))
		res.err = ErrAccessDenied
		return res
	}
	res.role = role
	middleware.AddSpanEvent(ctx, "access.resolved",
		attribute.String("user.id", userID),
		attribute.String("role", string(role)),
	)

	user, err := h.users.FindByID(ctx, userID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		res.err = lookupError(err, ErrUserNotFound)
		return res
	}
	res.user = user
	return res
}

// completeJoin applies a resolved join. It runs on the hub goroutine, after other
// events may have changed the connection or the document's owner presence.
func (h *Hub) completeJoin(c *Client, seq uint64, res joinResult) {
	if c.state != stateJoinPending || c.joinSeq != seq || c.documentID != res.documentID {
		return
	}

	docID := res.documentID
	if res.err != nil {
		if errors.Is(res.err, ErrPersistence) {
			h.log.Error("join lookup failed", zap.String("document_id", docID), zap.Error(res.err))
		}
		metrics.RecordEvent(string(models.EventJoinDocument), "rejected")
		c.state = stateConnected
		c.documentID = ""
		h.emitError(c, res.err)
		return
	}

	c.userID = res.userID
	now := h.now()
	isOwner := res.role == models.RoleOwner

	if isOwner {
		h.dir.SetOwnerOnline(docID, &models.OwnerPresence{
			ConnID:   c.ID,
			UserID:   res.userID,
			Name:     res.user.Name,
			JoinedAt: now,
			LastSeen: now,
		})
		h.releaseWaiting(docID)
	} else if !h.dir.OwnerOnline(docID) {
		h.waiting.Enqueue(docID, c.ID)
		c.state = stateWaiting
		metrics.RecordEvent(string(models.EventJoinDocument), "waiting")
		h.emit(c, models.EventOwnerOffline, models.Notice{
			DocumentID: docID,
			Message:    clientMessage(ErrOwnerOffline),
		})
		return
	}

	p := &models.Participant{
		ConnID:   c.ID,
		UserID:   res.userID,
		Name:     res.user.Name,
		Avatar:   res.user.Avatar,
		Color:    ColorFor(res.userID),
		Role:     res.role,
		IsOwner:  isOwner,
		JoinedAt: now,
	}
	if evicted := h.dir.Upsert(docID, p); evicted != nil && evicted.ConnID != c.ID {
		h.detachSuperseded(docID, evicted)
	}
	c.state = stateActive

	images := make([]models.Image, 0, len(res.doc.Images))
	images = append(images, res.doc.Images...)
	h.emit(c, models.EventDocumentLoaded, models.DocumentLoaded{
		DocumentID:  docID,
		Content:     res.doc.Content,
		Title:       res.doc.Title,
		UpdatedAt:   res.doc.UpdatedAt,
		IsOwner:     isOwner,
		OwnerID:     res.doc.OwnerID,
		UserRole:    res.role,
		Images:      images,
		OwnerOnline: h.dir.OwnerOnline(docID),
		Connected:   true,
	})

	if cursors := h.dir.Cursors(docID, c.ID); len(cursors) > 0 {
		h.emit(c, models.EventCursorsUpdate, models.CursorsUpdate{Cursors: cursors})
	}

	h.broadcastParticipants(docID)

	if !isOwner && !h.dir.Announced(docID, res.userID) {
		h.broadcast(docID, models.EventUserJoined, models.UserPresenceNotice{
			UserID: res.userID,
			Name:   res.user.Name,
			Role:   access.Label(res.role),
		}, c.ID)
		h.dir.MarkAnnounced(docID, res.userID)
	}

	metrics.RecordEvent(string(models.EventJoinDocument), "admitted")
	h.log.Info("user joined document",
		zap.String("document_id", docID),
		zap.String("user_id", res.userID),
		zap.String("conn_id", c.ID),
		zap.String("role", string(res.role)),
	)
}

// releaseWaiting tells every connection waiting on the document that the owner is back
func (h *Hub) releaseWaiting(documentID string) {
	for _, connID := range h.waiting.DrainAndNotify(documentID) {
		w, ok := h.clients[connID]
		if !ok || w.state != stateWaiting || w.documentID != documentID {
			continue
		}
		w.state = stateConnected
		w.documentID = ""
		h.emit(w, models.EventOwnerOnline, models.OwnerOnline{DocumentID: documentID})
	}
}

// detachSuperseded demotes a connection replaced by the same user's newer one
func (h *Hub) detachSuperseded(documentID string, evicted *models.Participant) {
	if old, ok := h.clients[evicted.ConnID]; ok && old.documentID == documentID {
		old.state = stateConnected
		old.documentID = ""
		h.emit(old, models.EventUsersUpdate, models.UsersUpdate{DocumentID: documentID, Participants: []*models.Participant{}})
	}
	h.dir.RemoveCursor(documentID, evicted.ConnID)
	h.broadcast(documentID, models.EventCursorRemoved, models.CursorRemoved{Connection: evicted.ConnID}, "")
}

func (h *Hub) broadcastParticipants(documentID string) {
	h.broadcast(documentID, models.EventUsersUpdate, models.UsersUpdate{
		DocumentID:   documentID,
		Participants: h.dir.Participants(documentID),
	}, "")
}

// Leave

func (h *Hub) onLeave(c *Client, data json.RawMessage) error {
	var in models.DocumentRef
	if err := decode(data, &in); err != nil {
		return err
	}
	if in.DocumentID != "" && c.documentID != "" && in.DocumentID != c.documentID {
		return ErrNotJoined
	}
	h.leave(c, false)
	return nil
}

// leave takes c out of its document. disconnect is true for transport loss, which
// announces the departure and, for the owner, schedules the room cascade.
func (h *Hub) leave(c *Client, disconnect bool) {
	docID := c.documentID

	switch c.state {
	case stateJoinPending:
		c.joinSeq++
	case stateWaiting:
		h.waiting.Dequeue(docID, c.ID)
	case stateActive:
		h.leaveRoom(c, docID, disconnect)
	}

	c.state = stateConnected
	c.documentID = ""
}

func (h *Hub) leaveRoom(c *Client, docID string, disconnect bool) {
	p := h.dir.Remove(docID, c.ID)
	if p == nil {
		return
	}
	if h.dir.RemoveCursor(docID, c.ID) {
		h.broadcast(docID, models.EventCursorRemoved, models.CursorRemoved{Connection: c.ID}, "")
	}

	wasOwner := false
	if owner := h.dir.Owner(docID); owner != nil && owner.ConnID == c.ID {
		h.dir.ClearOwnerOnline(docID)
		wasOwner = true
	}

	if disconnect && p.Role != models.RoleOwner {
		h.broadcast(docID, models.EventUserLeft, models.UserPresenceNotice{
			UserID: p.UserID,
			Name:   p.Name,
			Role:   access.Label(p.Role),
		}, "")
		h.dir.ClearAnnounced(docID, p.UserID)
	}

	h.broadcastParticipants(docID)

	if h.dir.TeardownIfEmpty(docID) {
		h.log.Debug("room torn down", zap.String("document_id", docID))
	}

	if wasOwner && disconnect {
		h.scheduleCascade(docID)
	}

	h.log.Info("user left document",
		zap.String("document_id", docID),
		zap.String("user_id", p.UserID),
		zap.String("conn_id", c.ID),
		zap.Bool("disconnect", disconnect),
	)
}

// scheduleCascade evicts the rest of the room once the owner's transport is gone
func (h *Hub) scheduleCascade(documentID string) {
	time.AfterFunc(h.opts.CascadeDelay, func() {
		h.post(func() { h.cascade(documentID) })
	})
}

func (h *Hub) cascade(documentID string) {
	if h.dir.OwnerOnline(documentID) {
		return
	}

	evicted := make([]*Client, 0)
	for _, connID := range h.dir.ConnIDs(documentID) {
		h.dir.Remove(documentID, connID)
		c, ok := h.clients[connID]
		if !ok {
			continue
		}
		h.emit(c, models.EventOwnerDisconnected, models.Notice{
			DocumentID: documentID,
			Message:    "The document owner has disconnected. You will be redirected.",
		})
		c.state = stateConnected
		c.documentID = ""
		evicted = append(evicted, c)
	}
	h.dir.teardown(documentID)

	empty := models.UsersUpdate{DocumentID: documentID, Participants: []*models.Participant{}}
	for _, c := range evicted {
		h.emit(c, models.EventUsersUpdate, empty)
	}

	if len(evicted) > 0 {
		h.log.Info("owner disconnected, room closed",
			zap.String("document_id", documentID),
			zap.Int("evicted", len(evicted)),
		)
	}
}

// sweepStaleOwners disconnects owner connections that stopped sending heartbeats
func (h *Hub) sweepStaleOwners() {
	if h.opts.StaleTimeout <= 0 {
		return
	}
	now := h.now()
	for docID, owner := range h.dir.Owners() {
		if now.Sub(owner.LastSeen) <= h.opts.StaleTimeout {
			continue
		}
		h.log.Warn("owner connection stale",
			zap.String("document_id", docID),
			zap.String("user_id", owner.UserID),
			zap.String("conn_id", owner.ConnID),
			zap.Duration("silent_for", now.Sub(owner.LastSeen)),
		)
		if c, ok := h.clients[owner.ConnID]; ok {
			h.drop(c, "owner heartbeat timeout")
			continue
		}
		h.dir.ClearOwnerOnline(docID)
		h.scheduleCascade(docID)
	}
}

// Active-state events

func (h *Hub) onTextChange(c *Client, data json.RawMessage) error {
	var in models.TextChangePayload
	if err := decode(data, &in); err != nil {
		return err
	}
	p, err := h.participant(c, in.DocumentID)
	if err != nil {
		return err
	}
	if !access.CanEdit(p.Role) {
		return ErrReadOnly
	}

	h.broadcast(c.documentID, models.EventTextChange, models.TextChange{
		Content:    in.Content,
		Delta:      in.Delta,
		UserID:     p.UserID,
		Connection: c.ID,
	}, c.ID)
	return nil
}

func (h *Hub) onCursorMove(c *Client, data json.RawMessage) error {
	var in models.CursorMovePayload
	if err := decode(data, &in); err != nil {
		return err
	}
	p, err := h.participant(c, in.DocumentID)
	if err != nil {
		return err
	}

	cursor := &models.Cursor{
		ConnID: c.ID,
		UserID: p.UserID,
		Name:   p.Name,
		Color:  p.Color,
		Range:  in.Range,
		Index:  in.Index,
	}
	h.dir.SetCursor(c.documentID, cursor)
	h.broadcast(c.documentID, models.EventCursorUpdate, cursor, c.ID)
	return nil
}

func (h *Hub) onTyping(c *Client, data json.RawMessage) error {
	var in models.TypingPayload
	if err := decode(data, &in); err != nil {
		return err
	}
	p, err := h.participant(c, in.DocumentID)
	if err != nil {
		return err
	}

	h.broadcast(c.documentID, models.EventUserTyping, models.UserTyping{
		UserID:   p.UserID,
		Name:     p.Name,
		IsTyping: in.IsTyping,
	}, c.ID)
	return nil
}

func (h *Hub) onSave(c *Client, data json.RawMessage) error {
	var in models.SaveDocumentPayload
	if err := decode(data, &in); err != nil {
		return err
	}
	p, err := h.participant(c, in.DocumentID)
	if err != nil {
		return err
	}
	if p.Role != models.RoleOwner {
		h.emit(c, models.EventDocumentSaved, models.DocumentSaved{Success: false, Error: clientMessage(ErrNotOwner)})
		return nil
	}

	docID := c.documentID
	var content *string
	if in.Content != nil {
		clean := h.sanitize(*in.Content)
		content = &clean
	}
	var title *string
	if in.Title != nil {
		if t := sanitize.Title(*in.Title); t != "" {
			title = &t
		}
	}

	h.async(func(ctx context.Context) {
		updatedAt, changed, err := h.persistSave(ctx, docID, title, content)
		h.post(func() { h.completeSave(c, docID, updatedAt, changed, err) })
	})
	return nil
}

// persistSave writes title and content when either differs from what is stored
func (h *Hub) persistSave(ctx context.Context, docID string, title, content *string) (time.Time, bool, error) {
	ctx, span := middleware.StartSpan(ctx, "Hub.SaveDocument", attribute.String("document.id", docID))
	defer span.End()

	doc, err := h.docs.FindByID(ctx, docID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return time.Time{}, false, lookupError(err, ErrDocumentNotFound)
	}

	newTitle, newContent := doc.Title, doc.Content
	if title != nil {
		newTitle = *title
	}
	if content != nil {
		newContent = *content
	}
	if newTitle == doc.Title && newContent == doc.Content {
		middleware.AddSpanEvent(ctx, "save.unchanged")
		return doc.UpdatedAt, false, nil
	}

	saved, err := h.docs.SaveContent(ctx, docID, newTitle, newContent)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return time.Time{}, false, lookupError(err, ErrDocumentNotFound)
	}
	span.SetAttributes(attribute.Int("document.content_length", len(newContent)))
	return saved.UpdatedAt, true, nil
}

func (h *Hub) completeSave(c *Client, docID string, updatedAt time.Time, changed bool, err error) {
	if err != nil {
		h.log.Error("failed to save document", zap.String("document_id", docID), zap.String("conn_id", c.ID), zap.Error(err))
		msg := clientMessage(ErrPersistence)
		if errors.Is(err, ErrDocumentNotFound) {
			msg = clientMessage(ErrDocumentNotFound)
		}
		h.emit(c, models.EventDocumentSaved, models.DocumentSaved{Success: false, Error: msg})
		return
	}

	h.emit(c, models.EventDocumentSaved, models.DocumentSaved{Success: true, UpdatedAt: &updatedAt})
	if changed {
		h.broadcast(docID, models.EventDocumentUpdated, models.DocumentUpdated{UpdatedAt: updatedAt}, c.ID)
		h.log.Info("document saved", zap.String("document_id", docID), zap.String("user_id", c.userID))
	}
}

// requireOwner returns c's participant when it holds the owner role
func (h *Hub) requireOwner(c *Client, documentID string) (*models.Participant, error) {
	p, err := h.participant(c, documentID)
	if err != nil {
		return nil, err
	}
	if p.Role != models.RoleOwner {
		return nil, ErrNotOwner
	}
	return p, nil
}

func (h *Hub) onImageUpload(c *Client, data json.RawMessage) error {
	var in models.ImageUploadPayload
	if err := decode(data, &in); err != nil {
		return err
	}
	p, err := h.requireOwner(c, in.DocumentID)
	if err != nil {
		return err
	}
	if in.ImageData.URL == "" {
		return ErrBadPayload
	}

	docID := c.documentID
	image := &models.Image{
		URL:        in.ImageData.URL,
		Name:       in.ImageData.Name,
		UploadedBy: p.UserID,
	}

	h.async(func(ctx context.Context) {
		ctx, span := middleware.StartSpan(ctx, "Hub.AddImage", attribute.String("document.id", docID))
		err := h.docs.AddImage(ctx, docID, image)
		middleware.AddSpanError(ctx, err)
		span.End()

		h.post(func() {
			if err != nil {
				h.log.Error("failed to add image", zap.String("document_id", docID), zap.Error(err))
				h.emitError(c, lookupError(err, ErrDocumentNotFound))
				return
			}
			h.broadcast(docID, models.EventImageAdded, models.ImageAdded{Image: *image}, "")
		})
	})
	return nil
}

func (h *Hub) onImageRemove(c *Client, data json.RawMessage) error {
	var in models.ImageRemovePayload
	if err := decode(data, &in); err != nil {
		return err
	}
	if _, err := h.requireOwner(c, in.DocumentID); err != nil {
		return err
	}
	if in.ImageID == "" {
		return ErrImageNotFound
	}

	docID := c.documentID
	h.async(func(ctx context.Context) {
		ctx, span := middleware.StartSpan(ctx, "Hub.RemoveImage", attribute.String("document.id", docID))
		err := h.docs.RemoveImage(ctx, docID, in.ImageID)
		if !errors.Is(err, repository.ErrNotFound) {
			middleware.AddSpanError(ctx, err)
		}
		span.End()

		h.post(func() {
			if err != nil {
				h.emitError(c, lookupError(err, ErrImageNotFound))
				return
			}
			h.broadcast(docID, models.EventImageRemoved, models.ImageRemoved{ImageID: in.ImageID}, "")
		})
	})
	return nil
}

func (h *Hub) onHeartbeat(c *Client, _ json.RawMessage) error {
	h.emit(c, models.EventHeartbeatAck, models.HeartbeatAck{})
	return nil
}
