package collaboration

import (
	"sort"

	"collabwrite/internal/models"
)

// room is the live state of one document: its participants and their last cursors
type room struct {
	participants map[string]*models.Participant // connID -> participant
	cursors      map[string]*models.Cursor      // connID -> cursor
}

func newRoom() *room {
	return &room{
		participants: make(map[string]*models.Participant),
		cursors:      make(map[string]*models.Cursor),
	}
}

// Directory is the in-process store of rooms, owner presence records and the
// join-notification ledger. It is owned by the hub goroutine and is not safe for
// concurrent use.
type Directory struct {
	rooms     map[string]*room
	owners    map[string]*models.OwnerPresence
	announced map[string]map[string]struct{} // documentID -> set of userIDs
}

func NewDirectory() *Directory {
	return &Directory{
		rooms:     make(map[string]*room),
		owners:    make(map[string]*models.OwnerPresence),
		announced: make(map[string]map[string]struct{}),
	}
}

// Upsert inserts p into the document's room. A participant with the same user id is
// evicted first and returned, so the caller can detach the superseded connection.
func (d *Directory) Upsert(documentID string, p *models.Participant) *models.Participant {
	r, ok := d.rooms[documentID]
	if !ok {
		r = newRoom()
		d.rooms[documentID] = r
	}

	var evicted *models.Participant
	for connID, existing := range r.participants {
		if existing.UserID == p.UserID {
			delete(r.participants, connID)
			delete(r.cursors, connID)
			evicted = existing
		}
	}

	r.participants[p.ConnID] = p
	return evicted
}

// Remove deletes the participant bound to connID, returning nil when there is none
func (d *Directory) Remove(documentID, connID string) *models.Participant {
	r, ok := d.rooms[documentID]
	if !ok {
		return nil
	}
	p, ok := r.participants[connID]
	if !ok {
		return nil
	}
	delete(r.participants, connID)
	return p
}

// Participant returns the participant bound to connID
func (d *Directory) Participant(documentID, connID string) *models.Participant {
	if r, ok := d.rooms[documentID]; ok {
		return r.participants[connID]
	}
	return nil
}

// Participants lists the room ordered by join time, unique by user id
func (d *Directory) Participants(documentID string) []*models.Participant {
	r, ok := d.rooms[documentID]
	if !ok {
		return []*models.Participant{}
	}

	byUser := make(map[string]*models.Participant, len(r.participants))
	for _, p := range r.participants {
		if prev, seen := byUser[p.UserID]; !seen || p.JoinedAt.After(prev.JoinedAt) {
			byUser[p.UserID] = p
		}
	}

	out := make([]*models.Participant, 0, len(byUser))
	for _, p := range byUser {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ConnID < out[j].ConnID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// ConnIDs returns every connection currently in the room
func (d *Directory) ConnIDs(documentID string) []string {
	r, ok := d.rooms[documentID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *Directory) SetOwnerOnline(documentID string, owner *models.OwnerPresence) {
	d.owners[documentID] = owner
}

func (d *Directory) ClearOwnerOnline(documentID string) {
	delete(d.owners, documentID)
}

func (d *Directory) OwnerOnline(documentID string) bool {
	_, ok := d.owners[documentID]
	return ok
}

func (d *Directory) Owner(documentID string) *models.OwnerPresence {
	return d.owners[documentID]
}

// Owners returns a copy of the owner records keyed by document id
func (d *Directory) Owners() map[string]*models.OwnerPresence {
	out := make(map[string]*models.OwnerPresence, len(d.owners))
	for id, o := range d.owners {
		out[id] = o
	}
	return out
}

// Join-notification ledger

func (d *Directory) Announced(documentID, userID string) bool {
	_, ok := d.announced[documentID][userID]
	return ok
}

func (d *Directory) MarkAnnounced(documentID, userID string) {
	set, ok := d.announced[documentID]
	if !ok {
		set = make(map[string]struct{})
		d.announced[documentID] = set
	}
	set[userID] = struct{}{}
}

func (d *Directory) ClearAnnounced(documentID, userID string) {
	if set, ok := d.announced[documentID]; ok {
		delete(set, userID)
	}
}

// Cursor cache

func (d *Directory) SetCursor(documentID string, c *models.Cursor) {
	if r, ok := d.rooms[documentID]; ok {
		r.cursors[c.ConnID] = c
	}
}

// RemoveCursor drops the connection's cursor and reports whether one existed
func (d *Directory) RemoveCursor(documentID, connID string) bool {
	r, ok := d.rooms[documentID]
	if !ok {
		return false
	}
	if _, ok := r.cursors[connID]; !ok {
		return false
	}
	delete(r.cursors, connID)
	return true
}

// Cursors lists the cached cursors of the room other than exceptConn
func (d *Directory) Cursors(documentID, exceptConn string) []*models.Cursor {
	r, ok := d.rooms[documentID]
	if !ok {
		return nil
	}
	out := make([]*models.Cursor, 0, len(r.cursors))
	for connID, c := range r.cursors {
		if connID != exceptConn {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnID < out[j].ConnID })
	return out
}

// TeardownIfEmpty deletes the room, owner record and ledger of a document whose
// participant set is empty. It reports whether a teardown happened.
// The WaitingRoom is not touched: its entries leave when their connections do.
func (d *Directory) TeardownIfEmpty(documentID string) bool {
	if r, ok := d.rooms[documentID]; ok && len(r.participants) > 0 {
		return false
	}
	d.teardown(documentID)
	return true
}

func (d *Directory) teardown(documentID string) {
	delete(d.rooms, documentID)
	delete(d.owners, documentID)
	delete(d.announced, documentID)
}

// Has reports whether any per-document state exists for documentID
func (d *Directory) Has(documentID string) bool {
	_, inRooms := d.rooms[documentID]
	_, inOwners := d.owners[documentID]
	_, inLedger := d.announced[documentID]
	return inRooms || inOwners || inLedger
}

func (d *Directory) RoomCount() int {
	return len(d.rooms)
}

func (d *Directory) ParticipantCount() int {
	n := 0
	for _, r := range d.rooms {
		n += len(r.participants)
	}
	return n
}
