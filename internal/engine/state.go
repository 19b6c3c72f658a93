package engine

import (
	"sync"
	"time"
)

// State is the ephemeral per-character state shown to chat frontends.
type State struct {
	CharacterID string    `json:"character_id"`
	Typing      bool      `json:"typing"`
	Mood        string    `json:"mood,omitempty"`
	Location    string    `json:"location,omitempty"`
	LastActive  time.Time `json:"last_active,omitzero"`
}

// StateStore holds per-character [State]. Unknown characters read as the
// zero state with CharacterID set.
type StateStore interface {
	Get(characterID string) State
	SetTyping(characterID string, typing bool)
	SetMood(characterID, mood string)
	SetLocation(characterID, location string)
	Touch(characterID string, at time.Time)
	Len() int
}

// MemStates is the in-process [StateStore].
type MemStates struct {
	mu     sync.RWMutex
	states map[string]State
}

var _ StateStore = (*MemStates)(nil)

// NewMemStates returns an empty state store.
func NewMemStates() *MemStates {
	return &MemStates{states: make(map[string]State)}
}

func (s *MemStates) update(id string, fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[id]
	st.CharacterID = id
	fn(&st)
	s.states[id] = st
}

// Get implements [StateStore].
func (s *MemStates) Get(characterID string) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[characterID]
	if !ok {
		return State{CharacterID: characterID}
	}
	return st
}

// SetTyping implements [StateStore].
func (s *MemStates) SetTyping(characterID string, typing bool) {
	s.update(characterID, func(st *State) { st.Typing = typing })
}

// SetMood implements [StateStore].
func (s *MemStates) SetMood(characterID, mood string) {
	s.update(characterID, func(st *State) { st.Mood = mood })
}

// SetLocation implements [StateStore].
func (s *MemStates) SetLocation(characterID, location string) {
	s.update(characterID, func(st *State) { st.Location = location })
}

// Touch implements [StateStore].
func (s *MemStates) Touch(characterID string, at time.Time) {
	s.update(characterID, func(st *State) { st.LastActive = at })
}

// Len implements [StateStore].
func (s *MemStates) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
