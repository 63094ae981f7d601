package agent

import (
	"sync"

	"github.com/google/uuid"
)

// Store keeps live conversations in memory for channels that span many requests.
type Store struct {
	newConv func(id string) *Conversation

	mu    sync.Mutex
	convs map[string]*Conversation
}

// NewStore creates conversations on demand with newConv.
func NewStore(newConv func(id string) *Conversation) *Store {
	return &Store{newConv: newConv, convs: make(map[string]*Conversation)}
}

// NewID returns a fresh conversation id.
func NewID() string { return uuid.NewString() }

// Get returns the conversation for id, creating it if needed. An empty id gets a new one.
func (s *Store) Get(id string) *Conversation {
	if id == "" {
		id = NewID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[id]; ok {
		return c
	}
	c := s.newConv(id)
	s.convs[id] = c
	return c
}

func (s *Store) Lookup(id string) (*Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	return c, ok
}

func (s *Store) Forget(id string) {
	s.mu.Lock()
	delete(s.convs, id)
	s.mu.Unlock()
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}
