package handler

import (
	"sync"

	"github.com/stegline/core/internal/decode"
	"github.com/stegline/core/internal/wizard"
)

// Sessions holds the one active wizard and decode session of each user.
type Sessions struct {
	newWizard func(userID string) *wizard.Wizard

	mu      sync.Mutex
	wizards map[string]*wizard.Wizard
	decodes map[string]*decode.Session
}

// NewSessions creates an empty registry. newWizard builds a user's wizard on
// first use.
func NewSessions(newWizard func(userID string) *wizard.Wizard) *Sessions {
	return &Sessions{
		newWizard: newWizard,
		wizards:   make(map[string]*wizard.Wizard),
		decodes:   make(map[string]*decode.Session),
	}
}

// Wizard returns the user's wizard, creating an idle one if needed.
func (s *Sessions) Wizard(userID string) *wizard.Wizard {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wizards[userID]
	if !ok {
		w = s.newWizard(userID)
		s.wizards[userID] = w
	}
	return w
}

// EndWizard drops the user's wizard once it is back at Idle with nothing in
// flight. A wizard that is mid-session is kept.
func (s *Sessions) EndWizard(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wizards[userID]
	if !ok {
		return false
	}
	if snap := w.Snapshot(); snap.Step != wizard.StepIdle || snap.Processing {
		return false
	}
	delete(s.wizards, userID)
	return true
}

// ActiveWizards returns the number of wizards held.
func (s *Sessions) ActiveWizards() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.wizards)
}

// OpenDecode installs a decode session for the user, closing the previous one.
func (s *Sessions) OpenDecode(userID string, d *decode.Session) {
	s.mu.Lock()
	prev := s.decodes[userID]
	s.decodes[userID] = d
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

// Decode returns the user's decode session.
func (s *Sessions) Decode(userID string) (*decode.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decodes[userID]
	return d, ok
}

// CloseDecode ends the user's decode session.
func (s *Sessions) CloseDecode(userID string) {
	s.mu.Lock()
	d := s.decodes[userID]
	delete(s.decodes, userID)
	s.mu.Unlock()

	if d != nil {
		d.Close()
	}
}
