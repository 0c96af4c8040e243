package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/wricardo/courtside/domain"
	"github.com/wricardo/courtside/events"
	"github.com/wricardo/courtside/realtime"
	"github.com/wricardo/courtside/repository/rest"
	"github.com/wricardo/courtside/transport/websocket"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type staticToken string

func (s staticToken) Token() (string, error) { return string(s), nil }

type testEnv struct {
	store  *Store
	hub    *websocket.Hub
	server *Server
	srv    *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := NewStore(func() time.Time { return testNow }).Seed()
	hub := websocket.NewHub(nil)
	go hub.Run(ctx)

	server := NewServer(store, hub, NewIssuer("test-secret", time.Hour), nil)
	srv := httptest.NewServer(server)
	t.Cleanup(srv.Close)
	return &testEnv{store: store, hub: hub, server: server, srv: srv}
}

type session struct {
	user  domain.User
	token string
	api   *rest.Client
}

func (e *testEnv) login(t *testing.T, username string) session {
	t.Helper()
	tokens, err := rest.NewClient(e.srv.URL, nil).Auth().Login(context.Background(), domain.Credentials{
		Username: username,
		Password: username,
	})
	require.NoError(t, err)
	require.NotNil(t, tokens.User)
	return session{
		user:  *tokens.User,
		token: tokens.Access,
		api:   rest.NewClient(e.srv.URL, staticToken(tokens.Access)),
	}
}

func (e *testEnv) court(t *testing.T, name string) domain.Court {
	t.Helper()
	for _, c := range e.store.Courts() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no court %q", name)
	return domain.Court{}
}

// subscribe opens a realtime client on path and waits until the hub has it
// in group.
func (e *testEnv) subscribe(t *testing.T, path, group, token string) (*realtime.Client, <-chan realtime.Message) {
	t.Helper()
	before := e.hub.Count(group)
	msgs := make(chan realtime.Message, 16)
	c := realtime.NewClient(path, realtime.Endpoint{Origin: e.srv.URL, Path: path})
	c.Subscribe(realtime.Func(func(m realtime.Message) { msgs <- m }))
	c.Connect(token)
	t.Cleanup(c.Disconnect)
	require.Eventually(t, func() bool {
		return c.State() == realtime.StateOpen && e.hub.Count(group) == before+1
	}, 2*time.Second, 10*time.Millisecond)
	return c, msgs
}

func next(t *testing.T, msgs <-chan realtime.Message, kind string) realtime.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-msgs:
			if m.Kind == kind {
				return m
			}
		case <-deadline:
			t.Fatalf("no %s message", kind)
			return realtime.Message{}
		}
	}
}

func closeCodeOf(t *testing.T, url string) int {
	t.Helper()
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	var ce *gws.CloseError
	require.ErrorAs(t, err, &ce)
	return ce.Code
}

func (e *testEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.srv.URL, "http") + path
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", gjson.Get(w.Body.String(), "status").String())
	assert.Equal(t, int64(0), gjson.Get(w.Body.String(), "push.bookings").Int())
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	ana := env.login(t, "ana")
	assert.NotEmpty(t, ana.token)
	assert.Equal(t, "ana", ana.user.Username)

	me, err := ana.api.Users().Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ana.user.ID, me.ID)
}

func TestLoginBadPassword(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/api/users/login/", bytes.NewBufferString(`{"username":"ana","password":"nope"}`))
	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, gjson.Get(w.Body.String(), "detail").String())
}

func TestLoginInactiveUser(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin")
	bruno := env.login(t, "bruno")

	require.NoError(t, admin.api.Users().SetActive(context.Background(), bruno.user.ID, false))

	_, err := rest.NewClient(env.srv.URL, nil).Auth().Login(context.Background(), domain.Credentials{Username: "bruno", Password: "bruno"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	// Tokens issued before deactivation stop working too.
	_, err = bruno.api.Users().Me(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := rest.NewClient(env.srv.URL, nil).Courts().List(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = rest.NewClient(env.srv.URL, staticToken("garbage")).Courts().List(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestStaffOnlyRoutes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ana := env.login(t, "ana")
	admin := env.login(t, "admin")

	_, err := ana.api.Users().List(ctx)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	users, err := admin.api.Users().List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 3)

	court := env.court(t, "Cancha 1")
	_, err = ana.api.Courts().SetActive(ctx, court.ID, false)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	updated, err := admin.api.Courts().SetActive(ctx, court.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
}

func TestBookingsAndAvailability(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ana := env.login(t, "ana")
	bruno := env.login(t, "bruno")
	court := env.court(t, "Cancha 1")

	start := time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)
	booking, err := ana.api.Bookings().Create(ctx, domain.NewBooking{Court: court.ID, StartTime: start, EndTime: start.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPending, booking.Status)
	assert.Equal(t, ana.user.ID, booking.User)

	_, err = bruno.api.Bookings().Create(ctx, domain.NewBooking{Court: court.ID, StartTime: start.Add(30 * time.Minute), EndTime: start.Add(90 * time.Minute)})
	var apiErr *rest.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, ErrCourtUnavailable.Error(), apiErr.Message)

	avail, err := bruno.api.Courts().Availability(ctx, start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, avail, 2, "inactive courts are not listed")
	assert.Equal(t, court.ID, avail[0].ID)
	assert.False(t, avail[0].IsAvailable)
	assert.True(t, avail[1].IsAvailable)

	weekly, err := bruno.api.Courts().WeeklyAvailability(ctx, court.ID, start, start.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, weekly, 2)
	day := weekly["2025-06-02"]
	assert.Len(t, day, closingHour-openingHour+1)
	assert.False(t, day[18])
	assert.True(t, day[17])
	assert.True(t, weekly["2025-06-03"][18])

	mine, err := bruno.api.Bookings().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, mine, "clients only see their own bookings")
	admin := env.login(t, "admin")
	all, err := admin.api.Bookings().List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMatchLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ana := env.login(t, "ana")
	bruno := env.login(t, "bruno")
	admin := env.login(t, "admin")
	court := env.court(t, "Cancha 2")

	start := time.Date(2025, 6, 3, 20, 0, 0, 0, time.UTC)
	match, err := ana.api.Matches().Create(ctx, domain.NewMatch{
		CourtID:       court.ID,
		CategoryID:    7,
		StartTime:     start,
		EndTime:       start.Add(90 * time.Minute),
		PlayersNeeded: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MatchOpen, match.Status)
	assert.Equal(t, "Cancha 2", match.Court)
	require.Len(t, match.Participants, 1)
	assert.True(t, match.HasParticipant(ana.user.ID))

	open, err := bruno.api.Matches().ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	joined, err := bruno.api.Matches().Join(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchFull, joined.Status)

	_, err = admin.api.Matches().Join(ctx, match.ID)
	var apiErr *rest.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrMatchFull.Error(), apiErr.Message)

	left, err := bruno.api.Matches().Leave(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchOpen, left.Status)
	assert.False(t, left.HasParticipant(bruno.user.ID))

	_, err = ana.api.Matches().RemoveParticipant(ctx, match.ID, ana.user.ID)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrCreatorRemoval.Error(), apiErr.Message)

	_, err = bruno.api.Matches().Cancel(ctx, match.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	cancelled, err := ana.api.Matches().Cancel(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchCancelled, cancelled.Status)

	open, err = bruno.api.Matches().ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestPushRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, gws.CloseNormalClosure, closeCodeOf(t, env.wsURL("/ws/bookings/")))

	ana := env.login(t, "ana")
	assert.Equal(t, gws.CloseNormalClosure, closeCodeOf(t, env.wsURL("/ws/users/?token="+ana.token)),
		"users channel is staff only")
}

func TestPushBookingCreated(t *testing.T) {
	env := newTestEnv(t)
	ana := env.login(t, "ana")
	admin := env.login(t, "admin")
	_, msgs := env.subscribe(t, "/ws/bookings/", GroupBookings, admin.token)
	court := env.court(t, "Cancha 1")

	start := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	booking, err := ana.api.Bookings().Create(context.Background(), domain.NewBooking{Court: court.ID, StartTime: start, EndTime: start.Add(time.Hour)})
	require.NoError(t, err)

	m := next(t, msgs, events.KindBookingCreated)
	ev, err := events.Decode(m)
	require.NoError(t, err)
	created := ev.(*events.BookingCreated)
	assert.Equal(t, booking.ID, created.Booking.ID)
	assert.Equal(t, court.ID, created.Booking.Court)
}

func TestPushUserUpdated(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin")
	bruno := env.login(t, "bruno")
	_, msgs := env.subscribe(t, "/ws/users/", GroupUsers, admin.token)

	require.NoError(t, admin.api.Users().SetActive(context.Background(), bruno.user.ID, false))

	m := next(t, msgs, events.KindUserUpdated)
	assert.Equal(t, int64(bruno.user.ID), m.Get("user.id").Int())
	assert.False(t, m.Get("user.is_active").Bool())
}

func TestPushParticipantJoined(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ana := env.login(t, "ana")
	bruno := env.login(t, "bruno")
	_, msgs := env.subscribe(t, "/ws/matches/", GroupMatches, ana.token)

	start := time.Date(2025, 6, 3, 20, 0, 0, 0, time.UTC)
	match, err := ana.api.Matches().Create(ctx, domain.NewMatch{CourtID: env.court(t, "Cancha 1").ID, CategoryID: 8, StartTime: start, EndTime: start.Add(time.Hour), PlayersNeeded: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(match.ID), next(t, msgs, events.KindMatchCreated).Get("match.id").Int())

	_, err = bruno.api.Matches().Join(ctx, match.ID)
	require.NoError(t, err)

	ev, err := events.Decode(next(t, msgs, events.KindParticipantJoined))
	require.NoError(t, err)
	joined := ev.(*events.ParticipantJoined)
	assert.Equal(t, match.ID, joined.MatchID)
	assert.Equal(t, "bruno", joined.User.Username)
	assert.Len(t, joined.Participants, 2)
}

func newMatch(t *testing.T, env *testEnv, owner session, start time.Time) domain.Match {
	t.Helper()
	match, err := owner.api.Matches().Create(context.Background(), domain.NewMatch{
		CourtID:       env.court(t, "Cancha 2").ID,
		CategoryID:    9,
		StartTime:     start,
		EndTime:       start.Add(time.Hour),
		PlayersNeeded: 3,
	})
	require.NoError(t, err)
	return *match
}

func TestChatRefusals(t *testing.T) {
	env := newTestEnv(t)
	ana := env.login(t, "ana")
	admin := env.login(t, "admin")
	upcoming := newMatch(t, env, ana, testNow.Add(24*time.Hour))
	started := newMatch(t, env, ana, testNow.Add(-time.Hour))

	chat := func(id int) string { return "/ws/chat/" + strconv.Itoa(id) + "/" }

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"no token", env.wsURL(chat(upcoming.ID)), realtime.CloseNoToken},
		{"invalid token", env.wsURL(chat(upcoming.ID) + "?token=garbage"), realtime.CloseInvalidToken},
		{"not participant", env.wsURL(chat(upcoming.ID) + "?token=" + admin.token), realtime.CloseNotParticipant},
		{"match started", env.wsURL(chat(started.ID) + "?token=" + ana.token), realtime.CloseMatchStarted},
		{"unknown match", env.wsURL(chat(9999) + "?token=" + ana.token), realtime.CloseMatchStarted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, closeCodeOf(t, tt.url))
		})
	}
}

func TestChatRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ana := env.login(t, "ana")
	bruno := env.login(t, "bruno")
	match := newMatch(t, env, ana, testNow.Add(24*time.Hour))
	_, err := bruno.api.Matches().Join(ctx, match.ID)
	require.NoError(t, err)

	path := "/ws/chat/" + strconv.Itoa(match.ID) + "/"
	_, anaChat := env.subscribe(t, path, ChatGroup(match.ID), ana.token)
	brunoClient, brunoChat := env.subscribe(t, path, ChatGroup(match.ID), bruno.token)
	_, anaMatches := env.subscribe(t, "/ws/matches/", GroupMatches, ana.token)

	require.NoError(t, brunoClient.Send(map[string]any{"type": "typing", "is_typing": true}))
	typing := next(t, anaChat, events.KindTyping)
	assert.Equal(t, "bruno", typing.Get("username").String())
	assert.True(t, typing.Get("is_typing").Bool())

	require.NoError(t, brunoClient.Send(map[string]string{"message": "hola"}))

	for _, msgs := range []<-chan realtime.Message{anaChat, brunoChat} {
		m := next(t, msgs, events.KindChatMessage)
		assert.Equal(t, "hola", m.Get("message").String())
		assert.Equal(t, "bruno", m.Get("username").String())
		assert.Equal(t, int64(bruno.user.ID), m.Get("user_id").Int())
		assert.Equal(t, "2025-06-01 12:00:00+00:00", m.Get("created_at").String())
	}

	notification := next(t, anaMatches, events.KindChatNotification)
	assert.Equal(t, int64(match.ID), notification.Get("match_id").Int())
	assert.Equal(t, "hola", notification.Get("message").String())

	history, err := ana.api.Chat().History(ctx, match.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hola", history[0].Message)
}

func TestUserActivationIsPatch(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin")
	bruno := env.login(t, "bruno")

	do := func(method string) int {
		req, err := http.NewRequest(method, env.srv.URL+"/api/users/users/"+strconv.Itoa(bruno.user.ID)+"/deactivate/", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+admin.token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusMethodNotAllowed, do(http.MethodPost))
	assert.Equal(t, http.StatusOK, do(http.MethodPatch))

	u, err := env.store.User(bruno.user.ID)
	require.NoError(t, err)
	assert.False(t, u.IsActive)
}

func TestRegisterAndChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.login(t, "admin")
	_, msgs := env.subscribe(t, "/ws/users/", GroupUsers, admin.token)

	users := rest.NewClient(env.srv.URL, nil).Users()
	user, err := users.Register(ctx, domain.Registration{
		Username:  "carla",
		Email:     "carla@courtside.dev",
		Password:  "carla",
		Password2: "carla",
		FirstName: "Carla",
		BirthDate: "1990-04-12",
	})
	require.NoError(t, err)
	assert.Equal(t, "carla", user.Username)
	assert.Equal(t, domain.RoleClient, user.Role)
	assert.True(t, user.IsActive)

	m := next(t, msgs, events.KindUserCreated)
	assert.Equal(t, "carla", m.Get("user.username").String())

	_, err = users.Register(ctx, domain.Registration{Username: "CARLA", Password: "x", Password2: "x"})
	var apiErr *rest.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, ErrUsernameTaken.Error(), apiErr.Message)

	_, err = users.Register(ctx, domain.Registration{Username: "dani", Password: "a", Password2: "b"})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "passwords do not match", apiErr.Message)

	carla := env.login(t, "carla")
	err = carla.api.Users().ChangePassword(ctx, domain.PasswordChange{CurrentPassword: "wrong", NewPassword: "new"})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, ErrWrongPassword.Error(), apiErr.Message)

	err = carla.api.Users().ChangePassword(ctx, domain.PasswordChange{CurrentPassword: "carla"})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "current_password and new_password are required", apiErr.Message)

	require.NoError(t, carla.api.Users().ChangePassword(ctx, domain.PasswordChange{CurrentPassword: "carla", NewPassword: "s3cret"}))
	_, err = env.store.Authenticate("carla", "carla")
	assert.Error(t, err)
	_, err = env.store.Authenticate("carla", "s3cret")
	assert.NoError(t, err)
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ana := env.login(t, "ana")

	last := "Gomez"
	user, err := ana.api.Users().UpdateProfile(ctx, domain.ProfileUpdate{LastName: &last})
	require.NoError(t, err)
	assert.Equal(t, "Gomez", user.LastName)
	assert.Equal(t, "Ana", user.FirstName)

	me, err := ana.api.Users().Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Gomez", me.LastName)

	taken := "bruno"
	_, err = ana.api.Users().UpdateProfile(ctx, domain.ProfileUpdate{Username: &taken})
	var apiErr *rest.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestDeleteUserPushesUserDeleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.login(t, "admin")
	ana := env.login(t, "ana")
	bruno := env.login(t, "bruno")
	_, msgs := env.subscribe(t, "/ws/users/", GroupUsers, admin.token)

	assert.ErrorIs(t, ana.api.Users().Delete(ctx, bruno.user.ID), domain.ErrForbidden)
	require.NoError(t, admin.api.Users().Delete(ctx, bruno.user.ID))

	m := next(t, msgs, events.KindUserDeleted)
	assert.Equal(t, int64(bruno.user.ID), m.Get("user_id").Int())

	_, err := env.store.User(bruno.user.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, admin.api.Users().Delete(ctx, bruno.user.ID), domain.ErrNotFound)
}

func TestCourtAdministration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.login(t, "admin")
	ana := env.login(t, "ana")

	_, err := ana.api.Courts().Create(ctx, domain.NewCourt{Name: "Cancha 9", Price: "25000.00"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	court, err := admin.api.Courts().Create(ctx, domain.NewCourt{Name: "Cancha 9", Price: "25000.00", Description: "Outdoor"})
	require.NoError(t, err)
	assert.Equal(t, "Cancha 9", court.Name)
	assert.True(t, court.IsActive)
	assert.Equal(t, court.ID, env.court(t, "Cancha 9").ID)

	_, err = admin.api.Courts().Create(ctx, domain.NewCourt{Name: "Cancha 10", Price: "cheap"})
	var apiErr *rest.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	price := "27000.00"
	updated, err := admin.api.Courts().Update(ctx, court.ID, domain.CourtUpdate{Price: &price})
	require.NoError(t, err)
	assert.Equal(t, "27000.00", updated.Price)
	assert.Equal(t, "Outdoor", updated.Description)
	assert.True(t, updated.IsActive)

	_, err = admin.api.Courts().Update(ctx, court.ID, domain.CourtUpdate{})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "nothing to update", apiErr.Message)

	require.NoError(t, admin.api.Courts().Delete(ctx, court.ID))
	_, err = admin.api.Courts().Get(ctx, court.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, admin.api.Courts().Delete(ctx, court.ID), domain.ErrNotFound)
}
