package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wricardo/courtside/domain"
)

var (
	ErrInvalidRange     = errors.New("end must be after start")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrMissingField     = errors.New("missing required field")
)

// Repositories groups the repositories a Service needs.
type Repositories struct {
	Courts   domain.CourtRepository
	Bookings domain.BookingRepository
	Users    domain.UserRepository
	Auth     domain.AuthRepository
	Matches  domain.MatchRepository
	Chat     domain.ChatRepository
}

// TokenSink stores the tokens of a successful login.
type TokenSink interface {
	SetTokens(access, refresh string) error
	Clear() error
}

type Service struct {
	repos  Repositories
	tokens TokenSink
}

func New(repos Repositories, tokens TokenSink) *Service {
	return &Service{repos: repos, tokens: tokens}
}

// Auth

// Login authenticates and stores the returned tokens.
func (s *Service) Login(ctx context.Context, username, password string) (*domain.AuthTokens, error) {
	tokens, err := s.repos.Auth.Login(ctx, domain.Credentials{Username: username, Password: password})
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if s.tokens != nil {
		if err := s.tokens.SetTokens(tokens.Access, tokens.Refresh); err != nil {
			return nil, fmt.Errorf("store tokens: %w", err)
		}
	}
	return tokens, nil
}

func (s *Service) Logout() error {
	if s.tokens == nil {
		return nil
	}
	return s.tokens.Clear()
}

func (s *Service) Me(ctx context.Context) (*domain.User, error) {
	return s.repos.Users.Me(ctx)
}

// Register signs up a new client account. An empty Password2 repeats
// Password. Registering does not log in.
func (s *Service) Register(ctx context.Context, r domain.Registration) (*domain.User, error) {
	if r.Password2 == "" {
		r.Password2 = r.Password
	}
	switch {
	case r.Username == "" || r.Password == "":
		return nil, fmt.Errorf("%w: username and password", ErrMissingField)
	case r.Password != r.Password2:
		return nil, ErrPasswordMismatch
	}
	return s.repos.Users.Register(ctx, r)
}

func (s *Service) UpdateProfile(ctx context.Context, p domain.ProfileUpdate) (*domain.User, error) {
	return s.repos.Users.UpdateProfile(ctx, p)
}

func (s *Service) ChangePassword(ctx context.Context, current, next string) error {
	if current == "" || next == "" {
		return fmt.Errorf("%w: current and new password", ErrMissingField)
	}
	return s.repos.Users.ChangePassword(ctx, domain.PasswordChange{CurrentPassword: current, NewPassword: next})
}

// Courts

func (s *Service) ListCourts(ctx context.Context) ([]domain.Court, error) {
	return s.repos.Courts.List(ctx)
}

func (s *Service) GetCourt(ctx context.Context, id int) (*domain.Court, error) {
	return s.repos.Courts.Get(ctx, id)
}

func (s *Service) CreateCourt(ctx context.Context, c domain.NewCourt) (*domain.Court, error) {
	if c.Name == "" || c.Price == "" {
		return nil, fmt.Errorf("%w: name and price", ErrMissingField)
	}
	return s.repos.Courts.Create(ctx, c)
}

func (s *Service) UpdateCourt(ctx context.Context, id int, u domain.CourtUpdate) (*domain.Court, error) {
	if u.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrMissingField)
	}
	return s.repos.Courts.Update(ctx, id, u)
}

func (s *Service) DeleteCourt(ctx context.Context, id int) error {
	return s.repos.Courts.Delete(ctx, id)
}

func (s *Service) CheckAvailability(ctx context.Context, start, end time.Time) ([]domain.CourtAvailability, error) {
	if !end.After(start) {
		return nil, ErrInvalidRange
	}
	return s.repos.Courts.Availability(ctx, start, end)
}

func (s *Service) WeeklyAvailability(ctx context.Context, courtID int, start, end time.Time) (domain.WeeklyAvailability, error) {
	if !end.After(start) {
		return nil, ErrInvalidRange
	}
	return s.repos.Courts.WeeklyAvailability(ctx, courtID, start, end)
}

// Bookings

func (s *Service) ListBookings(ctx context.Context) ([]domain.Booking, error) {
	return s.repos.Bookings.List(ctx)
}

func (s *Service) CreateBooking(ctx context.Context, b domain.NewBooking) (*domain.Booking, error) {
	if !b.EndTime.After(b.StartTime) {
		return nil, ErrInvalidRange
	}
	return s.repos.Bookings.Create(ctx, b)
}

// Users

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.repos.Users.List(ctx)
}

func (s *Service) SetUserActive(ctx context.Context, id int, active bool) error {
	return s.repos.Users.SetActive(ctx, id, active)
}

func (s *Service) DeleteUser(ctx context.Context, id int) error {
	return s.repos.Users.Delete(ctx, id)
}

// Matches

func (s *Service) ListOpenMatches(ctx context.Context) ([]domain.Match, error) {
	return s.repos.Matches.ListOpen(ctx)
}

func (s *Service) MyUpcomingMatches(ctx context.Context) ([]domain.Match, error) {
	return s.repos.Matches.MyUpcoming(ctx)
}

func (s *Service) CreateMatch(ctx context.Context, m domain.NewMatch) (*domain.Match, error) {
	if !m.EndTime.After(m.StartTime) {
		return nil, ErrInvalidRange
	}
	return s.repos.Matches.Create(ctx, m)
}

func (s *Service) JoinMatch(ctx context.Context, id int) (*domain.Match, error) {
	return s.repos.Matches.Join(ctx, id)
}

func (s *Service) LeaveMatch(ctx context.Context, id int) (*domain.Match, error) {
	return s.repos.Matches.Leave(ctx, id)
}

func (s *Service) CancelMatch(ctx context.Context, id int) (*domain.Match, error) {
	return s.repos.Matches.Cancel(ctx, id)
}

func (s *Service) RemoveParticipant(ctx context.Context, matchID, userID int) (*domain.Match, error) {
	return s.repos.Matches.RemoveParticipant(ctx, matchID, userID)
}

// Chat

func (s *Service) ChatHistory(ctx context.Context, matchID int) ([]domain.ChatMessage, error) {
	return s.repos.Chat.History(ctx, matchID)
}
