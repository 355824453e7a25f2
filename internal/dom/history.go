package dom

import "sync"

// MemoryHistory is a session history kept in memory. It mirrors the browser
// model: pushing discards forward entries, Back and Forward move the cursor
// and return the entry a popstate listener would receive.
type MemoryHistory struct {
	mu       sync.Mutex
	entries  []HistoryEntry
	index    int
	onChange func(path string)
}

// NewMemoryHistory creates an empty history. onChange, if non-nil, is called
// with the entry path whenever the current entry changes.
func NewMemoryHistory(onChange func(path string)) *MemoryHistory {
	return &MemoryHistory{index: -1, onChange: onChange}
}

func (h *MemoryHistory) PushState(entry HistoryEntry) {
	h.mu.Lock()
	h.entries = append(h.entries[:h.index+1], entry)
	h.index = len(h.entries) - 1
	h.mu.Unlock()
	h.changed(entry.Path)
}

func (h *MemoryHistory) ReplaceState(entry HistoryEntry) {
	h.mu.Lock()
	if h.index < 0 {
		h.entries = append(h.entries, entry)
		h.index = 0
	} else {
		h.entries[h.index] = entry
	}
	h.mu.Unlock()
	h.changed(entry.Path)
}

func (h *MemoryHistory) State() *HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.index < 0 {
		return nil
	}
	e := h.entries[h.index]
	return &e
}

func (h *MemoryHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Back moves one entry back. It returns false at the start of history.
func (h *MemoryHistory) Back() (*HistoryEntry, bool) {
	return h.move(-1)
}

// Forward moves one entry forward. It returns false at the end of history.
func (h *MemoryHistory) Forward() (*HistoryEntry, bool) {
	return h.move(1)
}

func (h *MemoryHistory) move(delta int) (*HistoryEntry, bool) {
	h.mu.Lock()
	next := h.index + delta
	if next < 0 || next >= len(h.entries) {
		h.mu.Unlock()
		return nil, false
	}
	h.index = next
	e := h.entries[next]
	h.mu.Unlock()
	h.changed(e.Path)
	return &e, true
}

func (h *MemoryHistory) changed(path string) {
	if h.onChange != nil && path != "" {
		h.onChange(path)
	}
}
