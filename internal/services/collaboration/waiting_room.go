package collaboration

// WaitingRoom parks connections whose join is deferred until the document owner is online.
// Owned by the hub goroutine.
type WaitingRoom struct {
	waiting map[string][]string // documentID -> connIDs in arrival order
}

func NewWaitingRoom() *WaitingRoom {
	return &WaitingRoom{waiting: make(map[string][]string)}
}

func (w *WaitingRoom) Enqueue(documentID, connID string) {
	for _, id := range w.waiting[documentID] {
		if id == connID {
			return
		}
	}
	w.waiting[documentID] = append(w.waiting[documentID], connID)
}

// DrainAndNotify returns every waiting connection of the document and clears the set.
// The caller tells each one to retry its join.
func (w *WaitingRoom) DrainAndNotify(documentID string) []string {
	ids := w.waiting[documentID]
	delete(w.waiting, documentID)
	return ids
}

func (w *WaitingRoom) Dequeue(documentID, connID string) {
	ids := w.waiting[documentID]
	for i, id := range ids {
		if id == connID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(w.waiting, documentID)
		return
	}
	w.waiting[documentID] = ids
}

func (w *WaitingRoom) Len(documentID string) int {
	return len(w.waiting[documentID])
}

func (w *WaitingRoom) Has(documentID string) bool {
	_, ok := w.waiting[documentID]
	return ok
}

// Total counts waiting connections across all documents
func (w *WaitingRoom) Total() int {
	n := 0
	for _, ids := range w.waiting {
		n += len(ids)
	}
	return n
}
