// Package events defines the messages pushed on the courtside channels.
//
// Every message is a JSON object whose "type" field names its kind. The set
// of kinds is open: Decode returns ErrUnknownKind for kinds this package does
// not know, and Router ignores them.
package events

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/wricardo/courtside/domain"
	"github.com/wricardo/courtside/jsoncodec"
	"github.com/wricardo/courtside/realtime"
)

// Kinds pushed by the server.
const (
	KindBookingCreated   = "booking_created"
	KindBookingUpdated   = "booking_updated"
	KindBookingCancelled = "booking_cancelled"

	KindUserCreated = "user_created"
	KindUserUpdated = "user_updated"
	KindUserDeleted = "user_deleted"

	KindMatchCreated       = "match_created"
	KindMatchUpdated       = "match_updated"
	KindMatchCancelled     = "match_cancelled"
	KindMatchDeleted       = "match_deleted"
	KindParticipantJoined  = "participant_joined"
	KindParticipantLeft    = "participant_left"
	KindParticipantRemoved = "participant_removed"
	KindChatNotification   = "chat_notification"

	KindChatMessage = "chat_message"
	KindTyping      = "typing"
	KindError       = "error"
)

var ErrUnknownKind = errors.New("unknown message kind")

// Event is a decoded channel message.
type Event interface {
	Kind() string
}

type BookingCreated struct {
	Booking domain.Booking `json:"booking"`
}

type BookingUpdated struct {
	Booking domain.Booking `json:"booking"`
}

type BookingCancelled struct {
	BookingID int `json:"booking_id"`
}

type UserCreated struct {
	User domain.User `json:"user"`
}

type UserUpdated struct {
	User domain.User `json:"user"`
}

type UserDeleted struct {
	UserID int `json:"user_id"`
}

type MatchCreated struct {
	Match domain.Match `json:"match"`
}

type MatchUpdated struct {
	Match domain.Match `json:"match"`
}

type MatchCancelled struct {
	MatchID int          `json:"match_id"`
	Match   domain.Match `json:"match"`
}

type MatchDeleted struct {
	MatchID int `json:"match_id"`
}

// ParticipantChange is shared by the joined, left and removed kinds.
type ParticipantChange struct {
	MatchID      int                  `json:"match_id"`
	User         domain.User          `json:"user"`
	Participants []domain.Participant `json:"participants"`
}

type ParticipantJoined struct{ ParticipantChange }
type ParticipantLeft struct{ ParticipantChange }
type ParticipantRemoved struct{ ParticipantChange }

// ChatNotification tells match subscribers that a chat message was posted.
type ChatNotification struct {
	MatchID  int    `json:"match_id"`
	Message  string `json:"message"`
	Username string `json:"username"`
}

// ChatMessage is a message in a match chat room. CreatedAt is kept verbatim;
// the chat server does not send RFC 3339.
type ChatMessage struct {
	ID        int    `json:"id"`
	Message   string `json:"message"`
	Username  string `json:"username"`
	UserID    int    `json:"user_id"`
	CreatedAt string `json:"created_at"`
}

type Typing struct {
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// Error is sent by the chat server when it refuses a message.
type Error struct {
	Message string `json:"message"`
}

func (BookingCreated) Kind() string     { return KindBookingCreated }
func (BookingUpdated) Kind() string     { return KindBookingUpdated }
func (BookingCancelled) Kind() string   { return KindBookingCancelled }
func (UserCreated) Kind() string        { return KindUserCreated }
func (UserUpdated) Kind() string        { return KindUserUpdated }
func (UserDeleted) Kind() string        { return KindUserDeleted }
func (MatchCreated) Kind() string       { return KindMatchCreated }
func (MatchUpdated) Kind() string       { return KindMatchUpdated }
func (MatchCancelled) Kind() string     { return KindMatchCancelled }
func (MatchDeleted) Kind() string       { return KindMatchDeleted }
func (ParticipantJoined) Kind() string  { return KindParticipantJoined }
func (ParticipantLeft) Kind() string    { return KindParticipantLeft }
func (ParticipantRemoved) Kind() string { return KindParticipantRemoved }
func (ChatNotification) Kind() string   { return KindChatNotification }
func (ChatMessage) Kind() string        { return KindChatMessage }
func (Typing) Kind() string             { return KindTyping }
func (Error) Kind() string              { return KindError }

var registry = map[string]func() Event{
	KindBookingCreated:     func() Event { return &BookingCreated{} },
	KindBookingUpdated:     func() Event { return &BookingUpdated{} },
	KindBookingCancelled:   func() Event { return &BookingCancelled{} },
	KindUserCreated:        func() Event { return &UserCreated{} },
	KindUserUpdated:        func() Event { return &UserUpdated{} },
	KindUserDeleted:        func() Event { return &UserDeleted{} },
	KindMatchCreated:       func() Event { return &MatchCreated{} },
	KindMatchUpdated:       func() Event { return &MatchUpdated{} },
	KindMatchCancelled:     func() Event { return &MatchCancelled{} },
	KindMatchDeleted:       func() Event { return &MatchDeleted{} },
	KindParticipantJoined:  func() Event { return &ParticipantJoined{} },
	KindParticipantLeft:    func() Event { return &ParticipantLeft{} },
	KindParticipantRemoved: func() Event { return &ParticipantRemoved{} },
	KindChatNotification:   func() Event { return &ChatNotification{} },
	KindChatMessage:        func() Event { return &ChatMessage{} },
	KindTyping:             func() Event { return &Typing{} },
	KindError:              func() Event { return &Error{} },
}

// Known reports whether kind has a typed event in this package.
func Known(kind string) bool {
	_, ok := registry[kind]
	return ok
}

// Decode turns a channel message into its typed event. The returned value
// is a pointer, e.g. *MatchCreated.
func Decode(m realtime.Message) (Event, error) {
	newEvent, ok := registry[m.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	ev := newEvent()
	if err := m.Decode(ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.Kind, err)
	}
	return ev, nil
}

// Encode serializes ev as a channel message with its "type" field first.
func Encode(ev Event) ([]byte, error) {
	body, err := jsoncodec.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	body = bytes.TrimSpace(body)
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("encode %s: payload is not an object", ev.Kind())
	}
	kind, err := jsoncodec.Marshal(ev.Kind())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(kind)
	if rest := body[1:]; len(rest) > 1 {
		buf.WriteByte(',')
		buf.Write(rest)
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}
