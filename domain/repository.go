package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

type CourtRepository interface {
	List(ctx context.Context) ([]Court, error)
	Get(ctx context.Context, id int) (*Court, error)
	Create(ctx context.Context, c NewCourt) (*Court, error)
	Update(ctx context.Context, id int, u CourtUpdate) (*Court, error)
	SetActive(ctx context.Context, id int, active bool) (*Court, error)
	Delete(ctx context.Context, id int) error
	Availability(ctx context.Context, start, end time.Time) ([]CourtAvailability, error)
	WeeklyAvailability(ctx context.Context, id int, start, end time.Time) (WeeklyAvailability, error)
}

type BookingRepository interface {
	List(ctx context.Context) ([]Booking, error)
	Create(ctx context.Context, b NewBooking) (*Booking, error)
}

type UserRepository interface {
	Me(ctx context.Context) (*User, error)
	List(ctx context.Context) ([]User, error)
	SetActive(ctx context.Context, id int, active bool) error
	Delete(ctx context.Context, id int) error
	Register(ctx context.Context, r Registration) (*User, error)
	UpdateProfile(ctx context.Context, p ProfileUpdate) (*User, error)
	ChangePassword(ctx context.Context, p PasswordChange) error
}

type AuthRepository interface {
	Login(ctx context.Context, c Credentials) (*AuthTokens, error)
}

type MatchRepository interface {
	ListOpen(ctx context.Context) ([]Match, error)
	MyUpcoming(ctx context.Context) ([]Match, error)
	Create(ctx context.Context, m NewMatch) (*Match, error)
	Join(ctx context.Context, id int) (*Match, error)
	Leave(ctx context.Context, id int) (*Match, error)
	Cancel(ctx context.Context, id int) (*Match, error)
	RemoveParticipant(ctx context.Context, id, userID int) (*Match, error)
}

type ChatRepository interface {
	History(ctx context.Context, matchID int) ([]ChatMessage, error)
}
