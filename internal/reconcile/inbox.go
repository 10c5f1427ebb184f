// ABOUTME: Operator-side conversation list fed by new_conversation events
// ABOUTME: Keeps conversations newest first with id based replay protection

package reconcile

import (
	"sync"
	"time"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/events"
)

// InboxEntry is one conversation in an agent's inbox.
type InboxEntry struct {
	ConversationID   string
	ContactSessionID string
	Status           string
	CreatedAt        time.Time
}

// Inbox is the conversation list for one agent.
type Inbox struct {
	agentID string

	mu      sync.Mutex
	entries []InboxEntry
	known   map[string]struct{}
}

// NewInbox creates an empty inbox for agentID.
func NewInbox(agentID string) *Inbox {
	return &Inbox{agentID: agentID, known: make(map[string]struct{})}
}

// Apply adds a new conversation at the top of the list.
func (in *Inbox) Apply(env events.Envelope) Outcome {
	conv, ok := env.(events.NewConversation)
	if !ok || conv.AgentID != in.agentID {
		return Ignored
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if _, seen := in.known[conv.ConversationID]; seen {
		return Duplicate
	}
	in.known[conv.ConversationID] = struct{}{}

	entry := InboxEntry{
		ConversationID:   conv.ConversationID,
		ContactSessionID: conv.ContactSessionID,
		Status:           conv.Status,
		CreatedAt:        conv.CreatedAt,
	}
	in.entries = append([]InboxEntry{entry}, in.entries...)
	return Appended
}

// Load seeds the inbox with conversations fetched before streaming, newest
// first. They go below anything already applied. Returns how many were added.
func (in *Inbox) Load(history []InboxEntry) int {
	in.mu.Lock()
	defer in.mu.Unlock()

	added := 0
	for _, e := range history {
		if e.ConversationID == "" {
			continue
		}
		if _, seen := in.known[e.ConversationID]; seen {
			continue
		}
		in.known[e.ConversationID] = struct{}{}
		in.entries = append(in.entries, e)
		added++
	}
	return added
}

// Entries returns a copy of the list, newest first.
func (in *Inbox) Entries() []InboxEntry {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]InboxEntry, len(in.entries))
	copy(out, in.entries)
	return out
}
