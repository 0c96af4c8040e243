package api

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/wricardo/courtside/domain"
)

// First and last bookable hour of a day.
const (
	openingHour = 6
	closingHour = 23
)

var (
	ErrCourtUnavailable = errors.New("the court is not available for that time")
	ErrMatchFull        = errors.New("the match is full")
	ErrMatchClosed      = errors.New("the match is not open")
	ErrMatchStarted     = errors.New("the match already started, the chat is closed")
	ErrCreatorRemoval   = errors.New("the creator cannot be removed from the match")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUsernameTaken    = errors.New("a user with that username already exists")
	ErrWrongPassword    = errors.New("the current password is incorrect")
)

type account struct {
	user domain.User
	hash []byte
}

// Store is the in-memory data set behind the dev server.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	lastID     int
	accounts   map[int]*account
	courts     map[int]*domain.Court
	categories map[int]string
	bookings   map[int]*domain.Booking
	matches    map[int]*domain.Match
	messages   map[int][]domain.ChatMessage
}

// NewStore returns an empty store. now defaults to time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:        now,
		accounts:   make(map[int]*account),
		courts:     make(map[int]*domain.Court),
		categories: make(map[int]string),
		bookings:   make(map[int]*domain.Booking),
		matches:    make(map[int]*domain.Match),
		messages:   make(map[int][]domain.ChatMessage),
	}
}

// Seed fills the store with demo courts, categories and users. Every user's
// password is their username.
func (s *Store) Seed() *Store {
	s.AddUser(domain.User{Username: "admin", Email: "admin@courtside.dev", FirstName: "Admin", Role: domain.RoleSuperAdmin, IsStaff: true, IsActive: true}, "admin")
	s.AddUser(domain.User{Username: "ana", Email: "ana@courtside.dev", FirstName: "Ana", Role: domain.RoleClient, IsActive: true}, "ana")
	s.AddUser(domain.User{Username: "bruno", Email: "bruno@courtside.dev", FirstName: "Bruno", Role: domain.RoleClient, IsActive: true}, "bruno")

	s.AddCourt(domain.Court{Name: "Cancha 1", Description: "Blindex, techada", Price: "18000.00", IsActive: true})
	s.AddCourt(domain.Court{Name: "Cancha 2", Description: "Cemento, al aire libre", Price: "15000.00", IsActive: true})
	s.AddCourt(domain.Court{Name: "Cancha 3", Description: "En mantenimiento", Price: "15000.00"})

	s.AddCategory("Primera")
	s.AddCategory("Segunda")
	s.AddCategory("Mixto")
	return s
}

func (s *Store) nextID() int {
	s.lastID++
	return s.lastID
}

func (s *Store) AddUser(u domain.User, password string) (domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = s.nextID()
	s.accounts[u.ID] = &account{user: u, hash: hash}
	return u, nil
}

func (s *Store) AddCourt(c domain.Court) domain.Court {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.nextID()
	if c.Images == nil {
		c.Images = []domain.CourtImage{}
	}
	s.courts[c.ID] = &c
	return c
}

func (s *Store) AddCategory(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	s.categories[id] = name
	return id
}

// Authenticate checks a username/password pair. Inactive users cannot log in.
func (s *Store) Authenticate(username, password string) (domain.User, error) {
	s.mu.Lock()
	var found *account
	for _, a := range s.accounts {
		if strings.EqualFold(a.user.Username, username) {
			found = &account{user: a.user, hash: a.hash}
			break
		}
	}
	s.mu.Unlock()

	// bcrypt runs outside the lock.
	if found == nil || !found.user.IsActive {
		return domain.User{}, domain.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword(found.hash, []byte(password)); err != nil {
		return domain.User{}, domain.ErrUnauthorized
	}
	return found.user, nil
}

func (s *Store) User(id int) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return a.user, nil
}

func (s *Store) Users() []domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.User, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) usernameTakenLocked(username string, except int) bool {
	for id, a := range s.accounts {
		if id != except && strings.EqualFold(a.user.Username, username) {
			return true
		}
	}
	return false
}

// Register creates an active client account.
func (s *Store) Register(r domain.Registration) (domain.User, error) {
	if r.Username == "" || r.Password == "" || r.Password != r.Password2 {
		return domain.User{}, ErrInvalidRequest
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usernameTakenLocked(r.Username, 0) {
		return domain.User{}, ErrUsernameTaken
	}
	u := domain.User{
		ID:        s.nextID(),
		Username:  r.Username,
		Email:     r.Email,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Role:      domain.RoleClient,
		IsActive:  true,
	}
	s.accounts[u.ID] = &account{user: u, hash: hash}
	return u, nil
}

func (s *Store) DeleteUser(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.accounts, id)
	return nil
}

// UpdateProfile applies the non-nil fields of p to user id.
func (s *Store) UpdateProfile(id int, p domain.ProfileUpdate) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	if p.Username != nil {
		if *p.Username == "" {
			return domain.User{}, ErrInvalidRequest
		}
		if s.usernameTakenLocked(*p.Username, id) {
			return domain.User{}, ErrUsernameTaken
		}
		a.user.Username = *p.Username
	}
	if p.Email != nil {
		a.user.Email = *p.Email
	}
	if p.FirstName != nil {
		a.user.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		a.user.LastName = *p.LastName
	}
	return a.user, nil
}

// ChangePassword replaces the password of user id after checking current.
func (s *Store) ChangePassword(id int, current, next string) error {
	if current == "" || next == "" {
		return ErrInvalidRequest
	}
	s.mu.Lock()
	a, ok := s.accounts[id]
	var hash []byte
	if ok {
		hash = a.hash
	}
	s.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(current)); err != nil {
		return ErrWrongPassword
	}
	newHash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok = s.accounts[id]; !ok {
		return domain.ErrNotFound
	}
	a.hash = newHash
	return nil
}

func (s *Store) SetUserActive(id int, active bool) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	a.user.IsActive = active
	return a.user, nil
}

// Courts

func (s *Store) Courts() []domain.Court {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Court, 0, len(s.courts))
	for _, c := range s.courts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Court(id int) (domain.Court, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courts[id]
	if !ok {
		return domain.Court{}, domain.ErrNotFound
	}
	return *c, nil
}

func validPrice(price string) bool {
	v, err := strconv.ParseFloat(price, 64)
	return err == nil && v >= 0
}

// CreateCourt adds an active court.
func (s *Store) CreateCourt(req domain.NewCourt) (domain.Court, error) {
	if req.Name == "" || !validPrice(req.Price) {
		return domain.Court{}, ErrInvalidRequest
	}
	return s.AddCourt(domain.Court{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		IsActive:    true,
	}), nil
}

// UpdateCourt applies the non-nil fields of u.
func (s *Store) UpdateCourt(id int, u domain.CourtUpdate) (domain.Court, error) {
	if (u.Name != nil && *u.Name == "") || (u.Price != nil && !validPrice(*u.Price)) {
		return domain.Court{}, ErrInvalidRequest
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courts[id]
	if !ok {
		return domain.Court{}, domain.ErrNotFound
	}
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Description != nil {
		c.Description = *u.Description
	}
	if u.Price != nil {
		c.Price = *u.Price
	}
	if u.IsActive != nil {
		c.IsActive = *u.IsActive
	}
	return *c, nil
}

func (s *Store) DeleteCourt(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.courts[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.courts, id)
	return nil
}

// busyLocked reports whether a live booking or match holds court during
// [start, end).
func (s *Store) busyLocked(courtID int, start, end time.Time) bool {
	for _, b := range s.bookings {
		if b.Court == courtID && b.Status != domain.BookingCancelled &&
			b.StartTime.Before(end) && start.Before(b.EndTime) {
			return true
		}
	}
	for _, m := range s.matches {
		if m.CourtID == courtID && m.Status != domain.MatchCancelled &&
			m.StartTime.Before(end) && start.Before(m.EndTime) {
			return true
		}
	}
	return false
}

// Availability lists the active courts and whether each is free for the
// whole of [start, end).
func (s *Store) Availability(start, end time.Time) ([]domain.CourtAvailability, error) {
	if !start.Before(end) {
		return nil, ErrInvalidRequest
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.CourtAvailability{}
	for _, c := range s.courts {
		if !c.IsActive {
			continue
		}
		out = append(out, domain.CourtAvailability{
			ID:          c.ID,
			Name:        c.Name,
			IsAvailable: !s.busyLocked(c.ID, start, end),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// WeeklyAvailability reports each bookable hour of every day from start to
// end inclusive.
func (s *Store) WeeklyAvailability(courtID int, start, end time.Time) (domain.WeeklyAvailability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.courts[courtID]; !ok {
		return nil, domain.ErrNotFound
	}
	first := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, start.Location())
	if last.Before(first) {
		return nil, ErrInvalidRequest
	}

	out := domain.WeeklyAvailability{}
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		hours := make(map[int]bool, closingHour-openingHour+1)
		for h := openingHour; h <= closingHour; h++ {
			slot := day.Add(time.Duration(h) * time.Hour)
			hours[h] = !s.busyLocked(courtID, slot, slot.Add(time.Hour))
		}
		out[day.Format(time.DateOnly)] = hours
	}
	return out, nil
}

// Bookings

// Bookings returns every booking for staff and only their own for clients.
func (s *Store) Bookings(viewer domain.User) []domain.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Booking{}
	for _, b := range s.bookings {
		if viewer.IsStaff || b.User == viewer.ID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (s *Store) CreateBooking(userID int, req domain.NewBooking) (domain.Booking, error) {
	if !req.StartTime.Before(req.EndTime) {
		return domain.Booking{}, ErrInvalidRequest
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courts[req.Court]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	if !c.IsActive || s.busyLocked(c.ID, req.StartTime, req.EndTime) {
		return domain.Booking{}, ErrCourtUnavailable
	}
	b := &domain.Booking{
		ID:        s.nextID(),
		Court:     c.ID,
		User:      userID,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Status:    domain.BookingPending,
		CreatedAt: s.now(),
	}
	s.bookings[b.ID] = b
	return *b, nil
}

// Matches

func cloneMatch(m *domain.Match) domain.Match {
	out := *m
	out.Participants = append([]domain.Participant{}, m.Participants...)
	if m.Creator != nil {
		creator := *m.Creator
		out.Creator = &creator
	}
	return out
}

func (s *Store) Match(id int) (domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return domain.Match{}, domain.ErrNotFound
	}
	return cloneMatch(m), nil
}

func (s *Store) listMatches(keep func(*domain.Match) bool) []domain.Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Match{}
	for _, m := range s.matches {
		if keep(m) {
			out = append(out, cloneMatch(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// OpenMatches lists open matches that have not started, soonest first.
func (s *Store) OpenMatches() []domain.Match {
	now := s.now()
	return s.listMatches(func(m *domain.Match) bool {
		return m.Status == domain.MatchOpen && !m.StartTime.Before(now)
	})
}

// UpcomingMatches lists the live matches userID takes part in.
func (s *Store) UpcomingMatches(userID int) []domain.Match {
	now := s.now()
	return s.listMatches(func(m *domain.Match) bool {
		return m.Status != domain.MatchCancelled && !m.StartTime.Before(now) && m.HasParticipant(userID)
	})
}

// CreateMatch opens a match with the creator as its first participant.
func (s *Store) CreateMatch(creator domain.User, req domain.NewMatch) (domain.Match, error) {
	if !req.StartTime.Before(req.EndTime) || req.PlayersNeeded < 1 {
		return domain.Match{}, ErrInvalidRequest
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courts[req.CourtID]
	if !ok {
		return domain.Match{}, domain.ErrNotFound
	}
	category, ok := s.categories[req.CategoryID]
	if !ok {
		return domain.Match{}, domain.ErrNotFound
	}
	if !c.IsActive || s.busyLocked(c.ID, req.StartTime, req.EndTime) {
		return domain.Match{}, ErrCourtUnavailable
	}
	now := s.now()
	m := &domain.Match{
		ID:            s.nextID(),
		Court:         c.Name,
		CourtID:       c.ID,
		Creator:       &creator,
		Category:      category,
		CategoryID:    req.CategoryID,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		PlayersNeeded: req.PlayersNeeded,
		Status:        domain.MatchOpen,
		CreatedAt:     now,
		Participants:  []domain.Participant{{User: creator, JoinedAt: now}},
	}
	s.matches[m.ID] = m
	return cloneMatch(m), nil
}

// JoinMatch adds user to the match. Joining twice is a no-op. The match
// becomes FULL once it holds the creator plus PlayersNeeded players.
func (s *Store) JoinMatch(id int, user domain.User) (domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return domain.Match{}, domain.ErrNotFound
	}
	if m.HasParticipant(user.ID) {
		return cloneMatch(m), nil
	}
	switch {
	case m.Status == domain.MatchFull || len(m.Participants) >= m.PlayersNeeded+1:
		return domain.Match{}, ErrMatchFull
	case m.Status != domain.MatchOpen:
		return domain.Match{}, ErrMatchClosed
	}
	m.Participants = append(m.Participants, domain.Participant{User: user, JoinedAt: s.now()})
	if len(m.Participants) >= m.PlayersNeeded+1 {
		m.Status = domain.MatchFull
	}
	return cloneMatch(m), nil
}

func (s *Store) removeLocked(m *domain.Match, userID int) bool {
	for i, p := range m.Participants {
		if p.User.ID == userID {
			m.Participants = append(m.Participants[:i], m.Participants[i+1:]...)
			if m.Status == domain.MatchFull {
				m.Status = domain.MatchOpen
			}
			return true
		}
	}
	return false
}

// LeaveMatch removes userID from the match. A full match reopens.
func (s *Store) LeaveMatch(id, userID int) (domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return domain.Match{}, domain.ErrNotFound
	}
	s.removeLocked(m, userID)
	return cloneMatch(m), nil
}

func canManage(m *domain.Match, actor domain.User) bool {
	return actor.IsStaff || (m.Creator != nil && m.Creator.ID == actor.ID)
}

// RemoveParticipant lets the creator or staff drop another player.
func (s *Store) RemoveParticipant(id int, actor domain.User, userID int) (domain.Match, domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return domain.Match{}, domain.User{}, domain.ErrNotFound
	}
	if !canManage(m, actor) {
		return domain.Match{}, domain.User{}, domain.ErrForbidden
	}
	if m.Creator != nil && m.Creator.ID == userID {
		return domain.Match{}, domain.User{}, ErrCreatorRemoval
	}
	var removed domain.User
	for _, p := range m.Participants {
		if p.User.ID == userID {
			removed = p.User
		}
	}
	if !s.removeLocked(m, userID) {
		return domain.Match{}, domain.User{}, domain.ErrNotFound
	}
	return cloneMatch(m), removed, nil
}

func (s *Store) CancelMatch(id int, actor domain.User) (domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return domain.Match{}, domain.ErrNotFound
	}
	if !canManage(m, actor) {
		return domain.Match{}, domain.ErrForbidden
	}
	m.Status = domain.MatchCancelled
	return cloneMatch(m), nil
}

// Chat

// ChatAccess reports whether userID may enter the match's chat room. A
// missing match counts as started.
func (s *Store) ChatAccess(matchID, userID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok || !s.now().Before(m.StartTime) {
		return ErrMatchStarted
	}
	if !m.HasParticipant(userID) {
		return domain.ErrForbidden
	}
	return nil
}

func (s *Store) ChatHistory(matchID int) []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatMessage{}, s.messages[matchID]...)
}

// PostMessage stores a chat message. Posting is refused once the match has
// started.
func (s *Store) PostMessage(matchID int, user domain.User, text string) (domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok || !s.now().Before(m.StartTime) {
		return domain.ChatMessage{}, ErrMatchStarted
	}
	msg := domain.ChatMessage{
		ID:        s.nextID(),
		Match:     matchID,
		User:      user.ID,
		Username:  user.Username,
		Message:   text,
		CreatedAt: s.now(),
	}
	s.messages[matchID] = append(s.messages[matchID], msg)
	return msg, nil
}
