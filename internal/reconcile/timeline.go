// ABOUTME: Merges authoritative message events into a locally rendered conversation
// ABOUTME: Replaces optimistic and typing entries in place and drops replayed ids

package reconcile

import (
	"strconv"
	"sync"
	"time"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/events"
)

// Outcome reports what Apply did with an event.
type Outcome int

const (
	// Ignored means the event does not belong to this view.
	Ignored Outcome = iota
	// Duplicate means an entry with the same id already exists.
	Duplicate
	// Replaced means a local placeholder was swapped for the event.
	Replaced
	// Appended means the event was added at the end.
	Appended
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case Duplicate:
		return "duplicate"
	case Replaced:
		return "replaced"
	case Appended:
		return "appended"
	default:
		return "unknown"
	}
}

// Entry is one rendered message. Local entries carry a temp_ or typing_ id
// until the matching event replaces them.
type Entry struct {
	ID               string
	ConversationID   string
	ContactSessionID string
	Role             string
	Content          string
	CreatedAt        time.Time

	// Sending marks an optimistic entry awaiting its event.
	Sending bool
	// Failed marks an optimistic entry whose write was rejected.
	Failed bool
	// Typing marks a placeholder for a pending reply.
	Typing bool
}

// Timeline is the message list of one conversation.
type Timeline struct {
	conversationID   string
	contactSessionID string

	mu      sync.Mutex
	entries []Entry
	known   map[string]struct{}
	seq     int
}

// NewTimeline creates an empty timeline. contactSessionID may be empty on
// the operator side, in which case any session matches.
func NewTimeline(conversationID, contactSessionID string) *Timeline {
	return &Timeline{
		conversationID:   conversationID,
		contactSessionID: contactSessionID,
		known:            make(map[string]struct{}),
	}
}

// Load seeds the timeline with history fetched before streaming, oldest
// first. Entries of other conversations and ids already present are skipped.
// Later events with a loaded id report Duplicate. Returns how many were added.
func (t *Timeline) Load(history []Entry) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	added := 0
	for _, e := range history {
		if e.ID == "" || e.ConversationID != t.conversationID {
			continue
		}
		if _, seen := t.known[e.ID]; seen {
			continue
		}
		t.known[e.ID] = struct{}{}
		e.Sending, e.Failed, e.Typing = false, false, false
		t.entries = append(t.entries, e)
		added++
	}
	return added
}

// AddOptimistic appends a user entry shown before the server confirms it
// and returns its temporary id.
func (t *Timeline) AddOptimistic(content string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	id := "temp_" + strconv.Itoa(t.seq)
	t.entries = append(t.entries, Entry{
		ID:               id,
		ConversationID:   t.conversationID,
		ContactSessionID: t.contactSessionID,
		Role:             events.RoleUser,
		Content:          content,
		CreatedAt:        time.Now(),
		Sending:          true,
	})
	return id
}

// AddTyping appends a placeholder for an expected assistant or operator
// reply and returns its id.
func (t *Timeline) AddTyping() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	id := "typing_" + strconv.Itoa(t.seq)
	t.entries = append(t.entries, Entry{
		ID:             id,
		ConversationID: t.conversationID,
		CreatedAt:      time.Now(),
		Typing:         true,
	})
	return id
}

// MarkFailed flags an optimistic entry as failed. Failed entries are never
// matched by later events. Reports whether the entry was found.
func (t *Timeline) MarkFailed(tempID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if t.entries[i].ID == tempID && t.entries[i].Sending {
			t.entries[i].Sending = false
			t.entries[i].Failed = true
			return true
		}
	}
	return false
}

// Apply merges env into the timeline.
func (t *Timeline) Apply(env events.Envelope) Outcome {
	msg, ok := env.(events.NewMessage)
	if !ok || msg.ConversationID != t.conversationID {
		return Ignored
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, seen := t.known[msg.MessageID]; seen {
		return Duplicate
	}
	t.known[msg.MessageID] = struct{}{}

	entry := Entry{
		ID:               msg.MessageID,
		ConversationID:   msg.ConversationID,
		ContactSessionID: msg.ContactSessionID,
		Role:             msg.Role,
		Content:          msg.Content,
		CreatedAt:        msg.CreatedAt,
	}

	idx := t.placeholderLocked(msg)
	if idx < 0 {
		t.entries = append(t.entries, entry)
		return Appended
	}
	t.entries[idx] = entry
	return Replaced
}

func (t *Timeline) placeholderLocked(msg events.NewMessage) int {
	for i, e := range t.entries {
		if msg.Role == events.RoleUser {
			if e.Sending && e.Role == events.RoleUser && e.Content == msg.Content && t.sameSession(msg) {
				return i
			}
			continue
		}
		if e.Typing {
			return i
		}
	}
	return -1
}

func (t *Timeline) sameSession(msg events.NewMessage) bool {
	return t.contactSessionID == "" || msg.ContactSessionID == "" || msg.ContactSessionID == t.contactSessionID
}

// Entries returns a copy of the current list.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}
