package buffer

import (
	"sort"
	"sync"
	"time"

	"github.com/agentsight/agentsight-go/internal/model"
)

// Conversation is one registry entry: the write-once creation record plus
// the conversation's buffer and token counter.
type Conversation struct {
	ID        string
	Params    model.ConversationPayload // immutable after creation
	Buffer    *Buffer
	Tokens    *TokenCounter
	CreatedAt time.Time
}

// Registry maps conversation IDs to their tracking state and holds the
// single mutable "active conversation" pointer used by the convenience
// API. Entries are never removed: a successful flush clears a
// conversation's buffer and counters but the registry entry persists for
// the life of the process. Different conversations contend only on the
// registry map, never on each other's buffers.
type Registry struct {
	defaultCapacity int

	mu            sync.RWMutex
	conversations map[string]*Conversation
	active        string
}

// NewRegistry creates an empty registry. defaultCapacity applies to every
// buffer it creates; zero or less means DefaultCapacity.
func NewRegistry(defaultCapacity int) *Registry {
	return &Registry{
		defaultCapacity: defaultCapacity,
		conversations:   make(map[string]*Conversation),
	}
}

// GetOrCreate returns the conversation for id, creating it with params if
// absent. When the conversation already exists, params are silently
// ignored: creation fields are write-once, so calling this N times with
// the same id yields one conversation whose fields equal those of the
// first call. The second return value reports whether a new entry was
// created.
func (r *Registry) GetOrCreate(id string, params model.ConversationPayload) (*Conversation, bool) {
	r.mu.RLock()
	conv, ok := r.conversations[id]
	r.mu.RUnlock()
	if ok {
		return conv, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if conv, ok := r.conversations[id]; ok {
		return conv, false
	}
	params.ConversationID = id
	conv = &Conversation{
		ID:        id,
		Params:    params,
		Buffer:    New(id, r.defaultCapacity),
		Tokens:    &TokenCounter{},
		CreatedAt: time.Now().UTC(),
	}
	r.conversations[id] = conv
	return conv, true
}

// Get returns the conversation for id, if present.
func (r *Registry) Get(id string) (*Conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.conversations[id]
	return conv, ok
}

// SetActive switches the current-conversation pointer. The pointer has no
// isolation guarantee under concurrent use from multiple logical
// conversations; callers that multiplex conversations should address them
// explicitly instead.
func (r *Registry) SetActive(id string) {
	r.mu.Lock()
	r.active = id
	r.mu.Unlock()
}

// Active returns the current-conversation pointer ("" if never set).
func (r *Registry) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// List returns the conversations for the given ids in argument order,
// skipping unknown ids. With no arguments it returns all conversations
// sorted by id for deterministic batch ordering.
func (r *Registry) List(ids ...string) []*Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(ids) > 0 {
		out := make([]*Conversation, 0, len(ids))
		for _, id := range ids {
			if conv, ok := r.conversations[id]; ok {
				out = append(out, conv)
			}
		}
		return out
	}

	out := make([]*Conversation, 0, len(r.conversations))
	for _, conv := range r.conversations {
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BufferedItems returns the total number of buffered items across all
// conversations. Used by the telemetry buffer-depth gauge.
func (r *Registry) BufferedItems() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, conv := range r.conversations {
		total += conv.Buffer.Len()
	}
	return total
}
