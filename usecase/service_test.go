package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/courtside/domain"
)

type mockAuth struct {
	LoginFunc func(ctx context.Context, c domain.Credentials) (*domain.AuthTokens, error)
}

func (m *mockAuth) Login(ctx context.Context, c domain.Credentials) (*domain.AuthTokens, error) {
	return m.LoginFunc(ctx, c)
}

type mockCourts struct {
	domain.CourtRepository
	availabilityCalls int
}

func (m *mockCourts) Availability(ctx context.Context, start, end time.Time) ([]domain.CourtAvailability, error) {
	m.availabilityCalls++
	return []domain.CourtAvailability{{ID: 1, Name: "Cancha 1", IsAvailable: true}}, nil
}

type mockMatches struct {
	domain.MatchRepository
	joined []int
}

func (m *mockMatches) Join(ctx context.Context, id int) (*domain.Match, error) {
	m.joined = append(m.joined, id)
	return &domain.Match{ID: id}, nil
}

type memoryTokens struct {
	access, refresh string
	cleared         bool
}

func (m *memoryTokens) SetTokens(access, refresh string) error {
	m.access, m.refresh = access, refresh
	return nil
}

func (m *memoryTokens) Clear() error {
	m.cleared = true
	m.access, m.refresh = "", ""
	return nil
}

func TestLoginStoresTokens(t *testing.T) {
	tokens := &memoryTokens{}
	svc := New(Repositories{Auth: &mockAuth{LoginFunc: func(_ context.Context, c domain.Credentials) (*domain.AuthTokens, error) {
		assert.Equal(t, "ana", c.Username)
		return &domain.AuthTokens{Access: "acc", Refresh: "ref"}, nil
	}}}, tokens)

	got, err := svc.Login(context.Background(), "ana", "pw")
	require.NoError(t, err)

	assert.Equal(t, "acc", got.Access)
	assert.Equal(t, "acc", tokens.access)
	assert.Equal(t, "ref", tokens.refresh)

	require.NoError(t, svc.Logout())
	assert.True(t, tokens.cleared)
}

func TestLoginFailureStoresNothing(t *testing.T) {
	tokens := &memoryTokens{}
	boom := errors.New("bad credentials")
	svc := New(Repositories{Auth: &mockAuth{LoginFunc: func(context.Context, domain.Credentials) (*domain.AuthTokens, error) {
		return nil, boom
	}}}, tokens)

	_, err := svc.Login(context.Background(), "ana", "nope")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, tokens.access)
}

func TestRangeValidation(t *testing.T) {
	courts := &mockCourts{}
	svc := New(Repositories{Courts: courts}, nil)
	now := time.Now()

	_, err := svc.CheckAvailability(context.Background(), now, now)
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = svc.CreateBooking(context.Background(), domain.NewBooking{StartTime: now, EndTime: now.Add(-time.Hour)})
	assert.ErrorIs(t, err, ErrInvalidRange)
	assert.Equal(t, 0, courts.availabilityCalls)

	avail, err := svc.CheckAvailability(context.Background(), now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, avail, 1)
	assert.Equal(t, 1, courts.availabilityCalls)
}

func TestJoinMatchDelegates(t *testing.T) {
	matches := &mockMatches{}
	svc := New(Repositories{Matches: matches}, nil)

	m, err := svc.JoinMatch(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, m.ID)
	assert.Equal(t, []int{7}, matches.joined)
}

type mockUsers struct {
	domain.UserRepository
	registered []domain.Registration
	changed    []domain.PasswordChange
}

func (m *mockUsers) Register(ctx context.Context, r domain.Registration) (*domain.User, error) {
	m.registered = append(m.registered, r)
	return &domain.User{ID: 10, Username: r.Username, IsActive: true}, nil
}

func (m *mockUsers) ChangePassword(ctx context.Context, p domain.PasswordChange) error {
	m.changed = append(m.changed, p)
	return nil
}

func TestRegisterValidation(t *testing.T) {
	users := &mockUsers{}
	svc := New(Repositories{Users: users}, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, domain.Registration{Username: "carla"})
	assert.ErrorIs(t, err, ErrMissingField)
	_, err = svc.Register(ctx, domain.Registration{Username: "carla", Password: "a", Password2: "b"})
	assert.ErrorIs(t, err, ErrPasswordMismatch)
	assert.Empty(t, users.registered)

	user, err := svc.Register(ctx, domain.Registration{Username: "carla", Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "carla", user.Username)
	require.Len(t, users.registered, 1)
	assert.Equal(t, "s3cret", users.registered[0].Password2)
}

func TestChangePasswordRequiresBoth(t *testing.T) {
	users := &mockUsers{}
	svc := New(Repositories{Users: users}, nil)

	assert.ErrorIs(t, svc.ChangePassword(context.Background(), "", "new"), ErrMissingField)
	require.NoError(t, svc.ChangePassword(context.Background(), "old", "new"))
	assert.Equal(t, []domain.PasswordChange{{CurrentPassword: "old", NewPassword: "new"}}, users.changed)
}

func TestCourtAdminValidation(t *testing.T) {
	svc := New(Repositories{Courts: &mockCourts{}}, nil)
	ctx := context.Background()

	_, err := svc.CreateCourt(ctx, domain.NewCourt{Name: "Cancha 4"})
	assert.ErrorIs(t, err, ErrMissingField)
	_, err = svc.UpdateCourt(ctx, 4, domain.CourtUpdate{})
	assert.ErrorIs(t, err, ErrMissingField)
}
