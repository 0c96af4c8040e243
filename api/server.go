package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/wricardo/courtside/domain"
	"github.com/wricardo/courtside/events"
	"github.com/wricardo/courtside/jsoncodec"
	"github.com/wricardo/courtside/transport/websocket"
)

// Push groups.
const (
	GroupBookings = "bookings"
	GroupUsers    = "users_admin"
	GroupMatches  = "matches"
)

// ChatGroup is the hub group of one match's chat room.
func ChatGroup(matchID int) string {
	return "chat:" + strconv.Itoa(matchID)
}

// Server represents the REST API server
type Server struct {
	store  *Store
	hub    *websocket.Hub
	issuer *Issuer
	logger *zap.Logger
	router *mux.Router
}

// NewServer creates a new API server. The hub must be running.
func NewServer(store *Store, hub *websocket.Hub, issuer *Issuer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:  store,
		hub:    hub,
		issuer: issuer,
		logger: logger.Named("api"),
		router: mux.NewRouter(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/users/login/", s.handleLogin).Methods("POST")
	s.router.HandleFunc("/api/users/register/", s.handleRegister).Methods("POST")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.requireAuth)

	// Users
	api.HandleFunc("/users/users/", requireStaff(s.handleListUsers)).Methods("GET")
	api.HandleFunc("/users/users/me/", s.handleMe).Methods("GET")
	api.HandleFunc("/users/users/{id:[0-9]+}/activate/", requireStaff(s.handleSetUserActive(true))).Methods("PATCH")
	api.HandleFunc("/users/users/{id:[0-9]+}/deactivate/", requireStaff(s.handleSetUserActive(false))).Methods("PATCH")
	api.HandleFunc("/users/users/{id:[0-9]+}/", requireStaff(s.handleDeleteUser)).Methods("DELETE")
	api.HandleFunc("/users/profile/", s.handleMe).Methods("GET")
	api.HandleFunc("/users/profile/", s.handleUpdateProfile).Methods("PATCH")
	api.HandleFunc("/users/change-password/", s.handleChangePassword).Methods("POST")

	// Courts (the availability route must be before the {id} pattern)
	api.HandleFunc("/courts/", s.handleListCourts).Methods("GET")
	api.HandleFunc("/courts/", requireStaff(s.handleCreateCourt)).Methods("POST")
	api.HandleFunc("/courts/availability/", s.handleAvailability).Methods("GET")
	api.HandleFunc("/courts/{id:[0-9]+}/", s.handleGetCourt).Methods("GET")
	api.HandleFunc("/courts/{id:[0-9]+}/", requireStaff(s.handleUpdateCourt)).Methods("PATCH")
	api.HandleFunc("/courts/{id:[0-9]+}/", requireStaff(s.handleDeleteCourt)).Methods("DELETE")
	api.HandleFunc("/courts/{id:[0-9]+}/weekly-availability/", s.handleWeeklyAvailability).Methods("GET")

	// Bookings
	api.HandleFunc("/bookings/bookings/", s.handleListBookings).Methods("GET")
	api.HandleFunc("/bookings/bookings/", s.handleCreateBooking).Methods("POST")

	// Matches
	api.HandleFunc("/matches/open-matches/", s.handleListOpenMatches).Methods("GET")
	api.HandleFunc("/matches/open-matches/", s.handleCreateMatch).Methods("POST")
	api.HandleFunc("/matches/open-matches/my-upcoming-matches/", s.handleMyUpcomingMatches).Methods("GET")
	api.HandleFunc("/matches/open-matches/{id:[0-9]+}/join/", s.handleJoinMatch).Methods("POST")
	api.HandleFunc("/matches/open-matches/{id:[0-9]+}/leave/", s.handleLeaveMatch).Methods("POST")
	api.HandleFunc("/matches/open-matches/{id:[0-9]+}/cancel/", s.handleCancelMatch).Methods("POST")
	api.HandleFunc("/matches/open-matches/{id:[0-9]+}/remove_participant/", s.handleRemoveParticipant).Methods("POST")

	// Chat
	api.HandleFunc("/chat/messages/", s.handleChatHistory).Methods("GET")

	// WebSocket
	s.router.HandleFunc("/ws/bookings/", s.handlePush(GroupBookings, false))
	s.router.HandleFunc("/ws/users/", s.handlePush(GroupUsers, true))
	s.router.HandleFunc("/ws/matches/", s.handlePush(GroupMatches, false))
	s.router.HandleFunc("/ws/chat/{id}/", s.handleChat)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	jsoncodec.Encode(w, data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondDetail(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"detail": message})
}

// respondErr maps store errors to the status codes the backend uses.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondDetail(w, http.StatusNotFound, "Not found.")
	case errors.Is(err, domain.ErrForbidden):
		respondDetail(w, http.StatusForbidden, "You do not have permission to perform this action.")
	case errors.Is(err, domain.ErrUnauthorized):
		respondDetail(w, http.StatusUnauthorized, "No active account found with the given credentials")
	case errors.Is(err, ErrCourtUnavailable),
		errors.Is(err, ErrMatchFull),
		errors.Is(err, ErrMatchClosed),
		errors.Is(err, ErrMatchStarted),
		errors.Is(err, ErrCreatorRemoval),
		errors.Is(err, ErrUsernameTaken),
		errors.Is(err, ErrWrongPassword),
		errors.Is(err, ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := jsoncodec.Decode(r.Body, v); err != nil {
		return ErrInvalidRequest
	}
	return nil
}

func pathID(r *http.Request) int {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	return id
}

func currentUser(r *http.Request) domain.User {
	u, _ := UserFrom(r.Context())
	return u
}

// publish pushes ev to group. Delivery failures never fail the request.
func (s *Server) publish(group string, ev events.Event) {
	if err := s.hub.Publish(group, ev); err != nil {
		s.logger.Warn("publish failed", zap.String("group", group), zap.String("kind", ev.Kind()), zap.Error(err))
	}
}

// Auth

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds domain.Credentials
	if err := decodeBody(r, &creds); err != nil {
		s.respondErr(w, err)
		return
	}

	user, err := s.store.Authenticate(creds.Username, creds.Password)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	tokens, err := s.issuer.Issue(user)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.logger.Info("user logged in", zap.String("user", user.Username))
	respondJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req domain.Registration
	if err := decodeBody(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	if req.Password != req.Password2 {
		respondError(w, http.StatusBadRequest, "passwords do not match")
		return
	}
	user, err := s.store.Register(req)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.logger.Info("user registered", zap.String("user", user.Username))
	s.publish(GroupUsers, events.UserCreated{User: user})
	respondJSON(w, http.StatusCreated, user)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req domain.PasswordChange
	if err := decodeBody(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		respondError(w, http.StatusBadRequest, "current_password and new_password are required")
		return
	}
	if err := s.store.ChangePassword(currentUser(r).ID, req.CurrentPassword, req.NewPassword); err != nil {
		s.respondErr(w, err)
		return
	}
	respondDetail(w, http.StatusOK, "Password changed.")
}

// Users

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, currentUser(r))
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.store.Users())
}

func (s *Server) handleSetUserActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.store.SetUserActive(pathID(r), active)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		s.publish(GroupUsers, events.UserUpdated{User: user})
		respondJSON(w, http.StatusOK, user)
	}
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if err := s.store.DeleteUser(id); err != nil {
		s.respondErr(w, err)
		return
	}
	s.publish(GroupUsers, events.UserDeleted{UserID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req domain.ProfileUpdate
	if err := decodeBody(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	user, err := s.store.UpdateProfile(currentUser(r).ID, req)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.publish(GroupUsers, events.UserUpdated{User: user})
	respondJSON(w, http.StatusOK, user)
}

// Courts

func (s *Server) handleListCourts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.store.Courts())
}

func (s *Server) handleGetCourt(w http.ResponseWriter, r *http.Request) {
	court, err := s.store.Court(pathID(r))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, court)
}

func (s *Server) handleCreateCourt(w http.ResponseWriter, r *http.Request) {
	var req domain.NewCourt
	if err := decodeBody(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	court, err := s.store.CreateCourt(req)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, court)
}

func (s *Server) handleUpdateCourt(w http.ResponseWriter, r *http.Request) {
	var req domain.CourtUpdate
	if err := decodeBody(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	if req.Empty() {
		respondError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	court, err := s.store.UpdateCourt(pathID(r), req)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, court)
}

func (s *Server) handleDeleteCourt(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCourt(pathID(r)); err != nil {
		s.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseRange(r *http.Request, startKey, endKey string) (time.Time, time.Time, error) {
	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get(startKey))
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidRequest
	}
	end, err := time.Parse(time.RFC3339, q.Get(endKey))
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidRequest
	}
	return start, end, nil
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseRange(r, "start_time", "end_time")
	if err != nil {
		respondError(w, http.StatusBadRequest, "start_time and end_time are required (RFC 3339)")
		return
	}
	out, err := s.store.Availability(start, end)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleWeeklyAvailability(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseRange(r, "start_date", "end_date")
	if err != nil {
		respondError(w, http.StatusBadRequest, "start_date and end_date are required (RFC 3339)")
		return
	}
	out, err := s.store.WeeklyAvailability(pathID(r), start, end)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// Bookings

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.store.Bookings(currentUser(r)))
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req domain.NewBooking
	if err := decodeBody(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	booking, err := s.store.CreateBooking(currentUser(r).ID, req)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.publish(GroupBookings, events.BookingCreated{Booking: booking})
	respondJSON(w, http.StatusCreated, booking)
}

// Matches

func (s *Server) handleListOpenMatches(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.store.OpenMatches())
}

func (s *Server) handleMyUpcomingMatches(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.store.UpcomingMatches(currentUser(r).ID))
}

func (s *Server) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var req domain.NewMatch
	if err := decodeBody(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	match, err := s.store.CreateMatch(currentUser(r), req)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.publish(GroupMatches, events.MatchCreated{Match: match})
	respondJSON(w, http.StatusCreated, match)
}

func participantChange(m domain.Match, u domain.User) events.ParticipantChange {
	return events.ParticipantChange{MatchID: m.ID, User: u, Participants: m.Participants}
}

func (s *Server) handleJoinMatch(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	match, err := s.store.JoinMatch(pathID(r), user)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.publish(GroupMatches, events.ParticipantJoined{ParticipantChange: participantChange(match, user)})
	respondJSON(w, http.StatusOK, match)
}

func (s *Server) handleLeaveMatch(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	match, err := s.store.LeaveMatch(pathID(r), user.ID)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.publish(GroupMatches, events.ParticipantLeft{ParticipantChange: participantChange(match, user)})
	respondJSON(w, http.StatusOK, match)
}

func (s *Server) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int `json:"user_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	match, removed, err := s.store.RemoveParticipant(pathID(r), currentUser(r), req.UserID)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.publish(GroupMatches, events.ParticipantRemoved{ParticipantChange: participantChange(match, removed)})
	respondJSON(w, http.StatusOK, match)
}

func (s *Server) handleCancelMatch(w http.ResponseWriter, r *http.Request) {
	match, err := s.store.CancelMatch(pathID(r), currentUser(r))
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.publish(GroupMatches, events.MatchCancelled{MatchID: match.ID, Match: match})
	respondJSON(w, http.StatusOK, match)
}

// Chat

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	matchID, err := strconv.Atoi(r.URL.Query().Get("match_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "match_id is required")
		return
	}
	match, err := s.store.Match(matchID)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if user := currentUser(r); !user.IsStaff && !match.HasParticipant(user.ID) {
		s.respondErr(w, domain.ErrForbidden)
		return
	}
	respondJSON(w, http.StatusOK, s.store.ChatHistory(matchID))
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"push": map[string]int{
			GroupBookings: s.hub.Count(GroupBookings),
			GroupUsers:    s.hub.Count(GroupUsers),
			GroupMatches:  s.hub.Count(GroupMatches),
		},
	})
}
