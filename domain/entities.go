package domain

import "time"

// Booking statuses.
const (
	BookingPending   = "PENDING"
	BookingConfirmed = "CONFIRMED"
	BookingCancelled = "CANCELLED"
)

// Match statuses.
const (
	MatchOpen      = "OPEN"
	MatchFull      = "FULL"
	MatchCancelled = "CANCELLED"
)

// User roles.
const (
	RoleClient     = "cliente"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

type CourtImage struct {
	ID    int    `json:"id"`
	Image string `json:"image"`
}

type Court struct {
	ID          int          `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Price       string       `json:"price"`
	IsActive    bool         `json:"is_active"`
	Images      []CourtImage `json:"images"`
}

// NewCourt is the request body for creating a court. Images are managed
// separately.
type NewCourt struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price"`
}

// CourtUpdate is a partial court update. Nil fields are left as they are.
type CourtUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Price       *string `json:"price,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// Empty reports whether u changes nothing.
func (u CourtUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil && u.Price == nil && u.IsActive == nil
}

// CourtAvailability is one court's availability for a requested time range.
type CourtAvailability struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	IsAvailable bool   `json:"is_available"`
}

// WeeklyAvailability maps YYYY-MM-DD to bookable hour (6..23) to free.
type WeeklyAvailability map[string]map[int]bool

type User struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role,omitempty"`
	IsStaff   bool   `json:"is_staff"`
	IsActive  bool   `json:"is_active"`
}

// Registration is the sign-up request body. BirthDate is YYYY-MM-DD.
type Registration struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Password2 string `json:"password2"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	BirthDate string `json:"fecha_nacimiento,omitempty"`
}

// ProfileUpdate changes the logged-in user's own details. Nil fields are
// left as they are.
type ProfileUpdate struct {
	Username  *string `json:"username,omitempty"`
	Email     *string `json:"email,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}

type PasswordChange struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type Booking struct {
	ID        int       `json:"id"`
	Court     int       `json:"court"`
	User      int       `json:"user"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Status    string    `json:"status"`
	Payment   *int      `json:"payment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewBooking is the request body for creating a booking.
type NewBooking struct {
	Court     int       `json:"court"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type Participant struct {
	User     User      `json:"user"`
	JoinedAt time.Time `json:"joined_at"`
}

type Match struct {
	ID            int           `json:"id"`
	Court         string        `json:"court"`
	CourtID       int           `json:"court_id_read"`
	Creator       *User         `json:"creator,omitempty"`
	Category      string        `json:"category"`
	CategoryID    int           `json:"category_id_read"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	PlayersNeeded int           `json:"players_needed"`
	Status        string        `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	Participants  []Participant `json:"participants"`
}

// HasParticipant reports whether userID created or joined the match.
func (m *Match) HasParticipant(userID int) bool {
	if m.Creator != nil && m.Creator.ID == userID {
		return true
	}
	for _, p := range m.Participants {
		if p.User.ID == userID {
			return true
		}
	}
	return false
}

// NewMatch is the request body for opening a match.
type NewMatch struct {
	CourtID       int       `json:"court_id"`
	CategoryID    int       `json:"category_id"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	PlayersNeeded int       `json:"players_needed"`
}

type ChatMessage struct {
	ID        int       `json:"id"`
	Match     int       `json:"match"`
	User      int       `json:"user"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Credentials is the login request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthTokens is the login response: a JWT pair plus the logged-in user.
type AuthTokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	User    *User  `json:"user,omitempty"`
}
