package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/wricardo/courtside/domain"
)

type CourtRepository struct{ c *Client }
type BookingRepository struct{ c *Client }
type UserRepository struct{ c *Client }
type AuthRepository struct{ c *Client }
type MatchRepository struct{ c *Client }
type ChatRepository struct{ c *Client }

func (c *Client) Courts() *CourtRepository     { return &CourtRepository{c} }
func (c *Client) Bookings() *BookingRepository { return &BookingRepository{c} }
func (c *Client) Users() *UserRepository       { return &UserRepository{c} }
func (c *Client) Auth() *AuthRepository        { return &AuthRepository{c} }
func (c *Client) Matches() *MatchRepository    { return &MatchRepository{c} }
func (c *Client) Chat() *ChatRepository        { return &ChatRepository{c} }

var (
	_ domain.CourtRepository   = (*CourtRepository)(nil)
	_ domain.BookingRepository = (*BookingRepository)(nil)
	_ domain.UserRepository    = (*UserRepository)(nil)
	_ domain.AuthRepository    = (*AuthRepository)(nil)
	_ domain.MatchRepository   = (*MatchRepository)(nil)
	_ domain.ChatRepository    = (*ChatRepository)(nil)
)

// Courts

func (r *CourtRepository) List(ctx context.Context) ([]domain.Court, error) {
	var out []domain.Court
	err := r.c.apiCall(ctx, http.MethodGet, "/api/courts/", nil, nil, &out)
	return out, err
}

func (r *CourtRepository) Get(ctx context.Context, id int) (*domain.Court, error) {
	var out domain.Court
	if err := r.c.apiCall(ctx, http.MethodGet, fmt.Sprintf("/api/courts/%d/", id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *CourtRepository) Create(ctx context.Context, c domain.NewCourt) (*domain.Court, error) {
	var out domain.Court
	if err := r.c.apiCall(ctx, http.MethodPost, "/api/courts/", nil, c, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *CourtRepository) Update(ctx context.Context, id int, u domain.CourtUpdate) (*domain.Court, error) {
	var out domain.Court
	if err := r.c.apiCall(ctx, http.MethodPatch, fmt.Sprintf("/api/courts/%d/", id), nil, u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *CourtRepository) SetActive(ctx context.Context, id int, active bool) (*domain.Court, error) {
	return r.Update(ctx, id, domain.CourtUpdate{IsActive: &active})
}

func (r *CourtRepository) Delete(ctx context.Context, id int) error {
	return r.c.apiCall(ctx, http.MethodDelete, fmt.Sprintf("/api/courts/%d/", id), nil, nil, nil)
}

func (r *CourtRepository) Availability(ctx context.Context, start, end time.Time) ([]domain.CourtAvailability, error) {
	q := url.Values{
		"start_time": {start.Format(time.RFC3339)},
		"end_time":   {end.Format(time.RFC3339)},
	}
	var out []domain.CourtAvailability
	err := r.c.apiCall(ctx, http.MethodGet, "/api/courts/availability/", q, nil, &out)
	return out, err
}

func (r *CourtRepository) WeeklyAvailability(ctx context.Context, id int, start, end time.Time) (domain.WeeklyAvailability, error) {
	q := url.Values{
		"start_date": {start.Format(time.RFC3339)},
		"end_date":   {end.Format(time.RFC3339)},
	}
	var out domain.WeeklyAvailability
	err := r.c.apiCall(ctx, http.MethodGet, fmt.Sprintf("/api/courts/%d/weekly-availability/", id), q, nil, &out)
	return out, err
}

// Bookings

func (r *BookingRepository) List(ctx context.Context) ([]domain.Booking, error) {
	var out []domain.Booking
	err := r.c.apiCall(ctx, http.MethodGet, "/api/bookings/bookings/", nil, nil, &out)
	return out, err
}

func (r *BookingRepository) Create(ctx context.Context, b domain.NewBooking) (*domain.Booking, error) {
	var out domain.Booking
	if err := r.c.apiCall(ctx, http.MethodPost, "/api/bookings/bookings/", nil, b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Users

func (r *UserRepository) Me(ctx context.Context) (*domain.User, error) {
	var out domain.User
	if err := r.c.apiCall(ctx, http.MethodGet, "/api/users/users/me/", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *UserRepository) List(ctx context.Context) ([]domain.User, error) {
	var out []domain.User
	err := r.c.apiCall(ctx, http.MethodGet, "/api/users/users/", nil, nil, &out)
	return out, err
}

func (r *UserRepository) SetActive(ctx context.Context, id int, active bool) error {
	action := "deactivate"
	if active {
		action = "activate"
	}
	return r.c.apiCall(ctx, http.MethodPatch, fmt.Sprintf("/api/users/users/%d/%s/", id, action), nil, nil, nil)
}

func (r *UserRepository) Delete(ctx context.Context, id int) error {
	return r.c.apiCall(ctx, http.MethodDelete, fmt.Sprintf("/api/users/users/%d/", id), nil, nil, nil)
}

func (r *UserRepository) Register(ctx context.Context, reg domain.Registration) (*domain.User, error) {
	var out domain.User
	if err := r.c.apiCall(ctx, http.MethodPost, "/api/users/register/", nil, reg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, p domain.ProfileUpdate) (*domain.User, error) {
	var out domain.User
	if err := r.c.apiCall(ctx, http.MethodPatch, "/api/users/profile/", nil, p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *UserRepository) ChangePassword(ctx context.Context, p domain.PasswordChange) error {
	return r.c.apiCall(ctx, http.MethodPost, "/api/users/change-password/", nil, p, nil)
}

// Auth

func (r *AuthRepository) Login(ctx context.Context, creds domain.Credentials) (*domain.AuthTokens, error) {
	var out domain.AuthTokens
	if err := r.c.apiCall(ctx, http.MethodPost, "/api/users/login/", nil, creds, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Matches

const matchesPath = "/api/matches/open-matches/"

func (r *MatchRepository) ListOpen(ctx context.Context) ([]domain.Match, error) {
	var out []domain.Match
	err := r.c.apiCall(ctx, http.MethodGet, matchesPath, nil, nil, &out)
	return out, err
}

func (r *MatchRepository) MyUpcoming(ctx context.Context) ([]domain.Match, error) {
	var out []domain.Match
	err := r.c.apiCall(ctx, http.MethodGet, matchesPath+"my-upcoming-matches/", nil, nil, &out)
	return out, err
}

func (r *MatchRepository) Create(ctx context.Context, m domain.NewMatch) (*domain.Match, error) {
	var out domain.Match
	if err := r.c.apiCall(ctx, http.MethodPost, matchesPath, nil, m, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *MatchRepository) Join(ctx context.Context, id int) (*domain.Match, error) {
	return r.action(ctx, id, "join", nil)
}

func (r *MatchRepository) Leave(ctx context.Context, id int) (*domain.Match, error) {
	return r.action(ctx, id, "leave", nil)
}

func (r *MatchRepository) Cancel(ctx context.Context, id int) (*domain.Match, error) {
	return r.action(ctx, id, "cancel", nil)
}

func (r *MatchRepository) RemoveParticipant(ctx context.Context, id, userID int) (*domain.Match, error) {
	return r.action(ctx, id, "remove_participant", map[string]int{"user_id": userID})
}

func (r *MatchRepository) action(ctx context.Context, id int, action string, body any) (*domain.Match, error) {
	var out domain.Match
	path := matchesPath + strconv.Itoa(id) + "/" + action + "/"
	if err := r.c.apiCall(ctx, http.MethodPost, path, nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chat

func (r *ChatRepository) History(ctx context.Context, matchID int) ([]domain.ChatMessage, error) {
	var out []domain.ChatMessage
	q := url.Values{"match_id": {strconv.Itoa(matchID)}}
	err := r.c.apiCall(ctx, http.MethodGet, "/api/chat/messages/", q, nil, &out)
	return out, err
}
