package client

import (
	"errors"
	"fmt"
	"sync"

	"talkroom/internal/models"

	"github.com/google/uuid"
)

type State int

const (
	Draft State = iota
	Sending
	Confirmed
	Failed
	EditPending
)

func (s State) String() string {
	switch s {
	case Draft:
		return "draft"
	case Sending:
		return "sending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	case EditPending:
		return "edit pending"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var ErrInvalidTransition = errors.New("invalid state transition")

// Failed to Confirmed is only taken when a failed edit of a stored message
// is abandoned.
var transitions = map[State][]State{
	Draft:       {Sending},
	Sending:     {Confirmed, Failed},
	Failed:      {Sending, Confirmed},
	Confirmed:   {EditPending},
	EditPending: {Confirmed, Sending},
}

func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Message is a message as the local tree holds it. The engine owns it and
// keeps the same pointer from the optimistic insert to the confirmed state,
// so callers may hold on to it.
type Message struct {
	mutex sync.RWMutex
	models.Message

	// Key identifies the message locally before and after it has an id.
	Key uuid.UUID

	state   State
	lastErr error
	// content as last confirmed by the server, restored when an edit is
	// cancelled
	confirmed string
	// author fields typed in by the user, sent again on retry
	fields *models.AuthorFields
}

func newMessage(data models.Message, state State) *Message {
	key, err := uuid.NewV7()
	if err != nil {
		key = uuid.New()
	}
	return &Message{Message: data, Key: key, state: state, confirmed: data.Content}
}

// transition moves the message to the next state, recording err when it is
// Failed. Callers hold the engine lock.
func (m *Message) transition(to State, err error) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.state.CanTransition(to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, m.state, to)
	}
	m.state = to
	m.lastErr = err
	return nil
}

func (m *Message) update(fn func(data *models.Message)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	fn(&m.Message)
}

func (m *Message) State() State {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.state
}

// Err is the error of the last failed round trip.
func (m *Message) Err() error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.lastErr
}

func (m *Message) IsSending() bool {
	return m.State() == Sending
}

func (m *Message) IsError() bool {
	return m.State() == Failed
}

func (m *Message) IsEditing() bool {
	state := m.State()
	return state == Draft || state == EditPending
}

// Data returns a copy of the message fields that is safe to read while the
// engine keeps working.
func (m *Message) Data() models.Message {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.Message
}
