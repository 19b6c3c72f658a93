package engine

import (
	"testing"
	"time"
)

func TestMemStates(t *testing.T) {
	s := NewMemStates()

	if st := s.Get("aria"); st.CharacterID != "aria" || st.Typing || st.Mood != "" {
		t.Errorf("zero state = %+v", st)
	}
	if s.Len() != 0 {
		t.Error("Get must not create state")
	}

	at := time.Date(2025, 1, 1, 19, 0, 0, 0, time.UTC)
	s.SetTyping("aria", true)
	s.SetMood("aria", "curious")
	s.SetLocation("aria", "the lighthouse")
	s.Touch("aria", at)

	st := s.Get("aria")
	if !st.Typing || st.Mood != "curious" || st.Location != "the lighthouse" || !st.LastActive.Equal(at) {
		t.Errorf("state = %+v", st)
	}

	s.SetTyping("aria", false)
	if s.Get("aria").Typing {
		t.Error("typing not cleared")
	}
	if s.Get("aria").Mood != "curious" {
		t.Error("SetTyping must keep other fields")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}
