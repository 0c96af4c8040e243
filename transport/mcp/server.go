package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/wricardo/courtside/domain"
	"github.com/wricardo/courtside/realtime"
)

// Service is the part of usecase.Service the tools call.
type Service interface {
	ListCourts(ctx context.Context) ([]domain.Court, error)
	GetCourt(ctx context.Context, id int) (*domain.Court, error)
	CreateCourt(ctx context.Context, c domain.NewCourt) (*domain.Court, error)
	UpdateCourt(ctx context.Context, id int, u domain.CourtUpdate) (*domain.Court, error)
	DeleteCourt(ctx context.Context, id int) error
	CheckAvailability(ctx context.Context, start, end time.Time) ([]domain.CourtAvailability, error)
	WeeklyAvailability(ctx context.Context, courtID int, start, end time.Time) (domain.WeeklyAvailability, error)
	ListBookings(ctx context.Context) ([]domain.Booking, error)
	CreateBooking(ctx context.Context, b domain.NewBooking) (*domain.Booking, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	DeleteUser(ctx context.Context, id int) error
	ListOpenMatches(ctx context.Context) ([]domain.Match, error)
	MyUpcomingMatches(ctx context.Context) ([]domain.Match, error)
	JoinMatch(ctx context.Context, id int) (*domain.Match, error)
	LeaveMatch(ctx context.Context, id int) (*domain.Match, error)
	ChatHistory(ctx context.Context, matchID int) ([]domain.ChatMessage, error)
}

// StatusSource reports the live push channels, usually a realtime.Service.
type StatusSource interface {
	Statuses() []realtime.Status
}

// Server exposes the booking API as MCP tools.
type Server struct {
	svc       Service
	statuses  StatusSource
	logger    *zap.Logger
	mcpServer *server.MCPServer
}

// NewServer creates the MCP server. statuses may be nil.
func NewServer(svc Service, statuses StatusSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:      svc,
		statuses: statuses,
		logger:   logger.Named("mcp"),
	}

	s.initMCPServer()
	return s
}

// initMCPServer initializes the MCP server with all tools
func (s *Server) initMCPServer() {
	s.mcpServer = server.NewMCPServer(
		"Courtside",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Courtside - court booking assistant

Every tool calls the booking API with the access token saved by "courtside login".

AVAILABLE TOOLS:
- list_courts / get_court: Courts, prices and whether they are active
- create_court / update_court / delete_court: Manage courts (staff only)
- check_availability: Which courts are free for a time range
- weekly_availability: Free hours (6-23) per day for one court
- list_bookings / create_booking: Your bookings (staff see all)
- list_users / delete_user: All users (staff only)
- list_open_matches / my_matches: Open matches looking for players, and yours
- join_match / leave_match: Take or give up a spot in a match
- chat_history: Messages of a match chat you take part in
- realtime_status: State of the live update channels

Times are RFC 3339, e.g. 2025-06-02T18:00:00-03:00.`),
	)

	s.registerTools()
}

func object(props map[string]any, required ...string) mcp.ToolInputSchema {
	if props == nil {
		props = map[string]any{}
	}
	return mcp.ToolInputSchema{Type: "object", Properties: props, Required: required}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func timeProp(desc string) map[string]any {
	return map[string]any{"type": "string", "format": "date-time", "description": desc}
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	// Courts
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_courts",
		Description: "List every court with its price and active flag",
		InputSchema: object(nil),
	}, s.handleListCourts)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_court",
		Description: "Get one court",
		InputSchema: object(map[string]any{"court_id": intProp("Court ID")}, "court_id"),
	}, s.handleGetCourt)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "create_court",
		Description: "Create an active court (staff only)",
		InputSchema: object(map[string]any{
			"name":        stringProp("Court name"),
			"price":       stringProp("Hourly price, e.g. 18000.00"),
			"description": stringProp("Optional description"),
		}, "name", "price"),
	}, s.handleCreateCourt)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "update_court",
		Description: "Change a court's name, price, description or active flag (staff only)",
		InputSchema: object(map[string]any{
			"court_id":    intProp("Court ID"),
			"name":        stringProp("New name"),
			"price":       stringProp("New hourly price"),
			"description": stringProp("New description"),
			"is_active":   boolProp("Whether the court can be booked"),
		}, "court_id"),
	}, s.handleUpdateCourt)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "delete_court",
		Description: "Delete a court (staff only)",
		InputSchema: object(map[string]any{"court_id": intProp("Court ID")}, "court_id"),
	}, s.handleDeleteCourt)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "check_availability",
		Description: "List active courts and whether each is free for the whole range",
		InputSchema: object(map[string]any{
			"start": timeProp("Range start"),
			"end":   timeProp("Range end, after start"),
		}, "start", "end"),
	}, s.handleCheckAvailability)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "weekly_availability",
		Description: "Free bookable hours of one court, per day, for up to a week",
		InputSchema: object(map[string]any{
			"court_id": intProp("Court ID"),
			"start":    timeProp("First day"),
			"days":     intProp("Number of days (default 7)"),
		}, "court_id", "start"),
	}, s.handleWeeklyAvailability)

	// Bookings
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_bookings",
		Description: "List bookings visible to the logged in user",
		InputSchema: object(nil),
	}, s.handleListBookings)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "create_booking",
		Description: "Book a court",
		InputSchema: object(map[string]any{
			"court_id":         intProp("Court ID"),
			"start":            timeProp("Booking start"),
			"duration_minutes": intProp("Length in minutes (default 60)"),
		}, "court_id", "start"),
	}, s.handleCreateBooking)

	// Users
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_users",
		Description: "List all users (staff only)",
		InputSchema: object(nil),
	}, s.handleListUsers)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "delete_user",
		Description: "Delete a user account (staff only)",
		InputSchema: object(map[string]any{"user_id": intProp("User ID")}, "user_id"),
	}, s.handleDeleteUser)

	// Matches
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_open_matches",
		Description: "List open matches that still need players",
		InputSchema: object(nil),
	}, s.handleListOpenMatches)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "my_matches",
		Description: "List upcoming matches the logged in user takes part in",
		InputSchema: object(nil),
	}, s.handleMyMatches)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "join_match",
		Description: "Join an open match",
		InputSchema: object(map[string]any{"match_id": intProp("Match ID")}, "match_id"),
	}, s.handleJoinMatch)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "leave_match",
		Description: "Leave a match",
		InputSchema: object(map[string]any{"match_id": intProp("Match ID")}, "match_id"),
	}, s.handleLeaveMatch)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "chat_history",
		Description: "Messages posted in a match chat",
		InputSchema: object(map[string]any{"match_id": intProp("Match ID")}, "match_id"),
	}, s.handleChatHistory)

	// Realtime
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "realtime_status",
		Description: "State of each live update channel: connection state, reconnect attempts and last close code",
		InputSchema: object(nil),
	}, s.handleRealtimeStatus)
}

// GetMCPServer returns the underlying MCP server
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// Argument helpers. JSON numbers arrive as float64.

func arguments(request mcp.CallToolRequest) map[string]any {
	args, _ := request.Params.Arguments.(map[string]any)
	return args
}

func intArg(request mcp.CallToolRequest, key string, def int, required bool) (int, error) {
	v, ok := arguments(request)[key]
	if !ok || v == nil {
		if required {
			return 0, fmt.Errorf("%s is required", key)
		}
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	}
	return 0, fmt.Errorf("%s must be a number", key)
}

// stringArg returns nil when key is absent.
func stringArg(request mcp.CallToolRequest, key string) (*string, error) {
	v, ok := arguments(request)[key]
	if !ok || v == nil {
		return nil, nil
	}
	str, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%s must be a string", key)
	}
	return &str, nil
}

func boolArg(request mcp.CallToolRequest, key string) (*bool, error) {
	v, ok := arguments(request)[key]
	if !ok || v == nil {
		return nil, nil
	}
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("%s must be true or false", key)
	}
	return &b, nil
}

func timeArg(request mcp.CallToolRequest, key string) (time.Time, error) {
	raw, _ := arguments(request)[key].(string)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%s is required", key)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC 3339: %w", key, err)
	}
	return t, nil
}

func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	s.logger.Debug("tool failed", zap.String("tool", tool), zap.Error(err))
	return mcp.NewToolResultError(err.Error())
}

// Handlers

func (s *Server) handleListCourts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	courts, err := s.svc.ListCourts(ctx)
	if err != nil {
		return s.toolError("list_courts", err), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Courts (%d):\n", len(courts))
	for _, c := range courts {
		b.WriteString(formatCourt(c))
		b.WriteByte('\n')
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleGetCourt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := intArg(request, "court_id", 0, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	court, err := s.svc.GetCourt(ctx, id)
	if err != nil {
		return s.toolError("get_court", err), nil
	}
	result := formatCourt(*court)
	if court.Description != "" {
		result += "\n  " + court.Description
	}
	return mcp.NewToolResultText(result), nil
}

func (s *Server) handleCreateCourt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req domain.NewCourt
	for key, dst := range map[string]*string{"name": &req.Name, "price": &req.Price, "description": &req.Description} {
		v, err := stringArg(request, key)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if v != nil {
			*dst = *v
		}
	}
	if req.Name == "" || req.Price == "" {
		return mcp.NewToolResultError("name and price are required"), nil
	}
	court, err := s.svc.CreateCourt(ctx, req)
	if err != nil {
		return s.toolError("create_court", err), nil
	}
	return mcp.NewToolResultText("Created: " + strings.TrimPrefix(formatCourt(*court), "- ")), nil
}

func (s *Server) handleUpdateCourt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := intArg(request, "court_id", 0, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var u domain.CourtUpdate
	for key, dst := range map[string]**string{"name": &u.Name, "price": &u.Price, "description": &u.Description} {
		if *dst, err = stringArg(request, key); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	if u.IsActive, err = boolArg(request, "is_active"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if u.Empty() {
		return mcp.NewToolResultError("nothing to update, pass name, price, description or is_active"), nil
	}

	court, err := s.svc.UpdateCourt(ctx, id, u)
	if err != nil {
		return s.toolError("update_court", err), nil
	}
	return mcp.NewToolResultText("Updated: " + strings.TrimPrefix(formatCourt(*court), "- ")), nil
}

func (s *Server) handleDeleteCourt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := intArg(request, "court_id", 0, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeleteCourt(ctx, id); err != nil {
		return s.toolError("delete_court", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Court #%d deleted.", id)), nil
}

func (s *Server) handleCheckAvailability(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start, err := timeArg(request, "start")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	end, err := timeArg(request, "end")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	avail, err := s.svc.CheckAvailability(ctx, start, end)
	if err != nil {
		return s.toolError("check_availability", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Availability %s to %s:\n", start.Format(time.RFC3339), end.Format(time.RFC3339))
	for _, a := range avail {
		state := "booked"
		if a.IsAvailable {
			state = "FREE"
		}
		fmt.Fprintf(&b, "- #%d %s: %s\n", a.ID, a.Name, state)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleWeeklyAvailability(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := intArg(request, "court_id", 0, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	start, err := timeArg(request, "start")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	days, err := intArg(request, "days", 7, false)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if days < 1 || days > 7 {
		return mcp.NewToolResultError("days must be between 1 and 7"), nil
	}

	weekly, err := s.svc.WeeklyAvailability(ctx, id, start, start.AddDate(0, 0, days-1))
	if err != nil {
		return s.toolError("weekly_availability", err), nil
	}
	return mcp.NewToolResultText(formatWeekly(id, weekly)), nil
}

func (s *Server) handleListBookings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bookings, err := s.svc.ListBookings(ctx)
	if err != nil {
		return s.toolError("list_bookings", err), nil
	}
	if len(bookings) == 0 {
		return mcp.NewToolResultText("No bookings."), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Bookings (%d):\n", len(bookings))
	for _, bk := range bookings {
		b.WriteString(formatBooking(bk))
		b.WriteByte('\n')
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleCreateBooking(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	courtID, err := intArg(request, "court_id", 0, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	start, err := timeArg(request, "start")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	minutes, err := intArg(request, "duration_minutes", 60, false)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if minutes <= 0 {
		return mcp.NewToolResultError("duration_minutes must be positive"), nil
	}

	booking, err := s.svc.CreateBooking(ctx, domain.NewBooking{
		Court:     courtID,
		StartTime: start,
		EndTime:   start.Add(time.Duration(minutes) * time.Minute),
	})
	if err != nil {
		return s.toolError("create_booking", err), nil
	}
	return mcp.NewToolResultText("Booked: " + formatBooking(*booking)), nil
}

func (s *Server) handleListUsers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	users, err := s.svc.ListUsers(ctx)
	if err != nil {
		return s.toolError("list_users", err), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Users (%d):\n", len(users))
	for _, u := range users {
		state := "active"
		if !u.IsActive {
			state = "inactive"
		}
		fmt.Fprintf(&b, "- #%d %s <%s> %s, %s\n", u.ID, u.Username, u.Email, u.Role, state)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleDeleteUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := intArg(request, "user_id", 0, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeleteUser(ctx, id); err != nil {
		return s.toolError("delete_user", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("User #%d deleted.", id)), nil
}

func (s *Server) matchList(ctx context.Context, tool, title string, list func(context.Context) ([]domain.Match, error)) (*mcp.CallToolResult, error) {
	matches, err := list(ctx)
	if err != nil {
		return s.toolError(tool, err), nil
	}
	if len(matches) == 0 {
		return mcp.NewToolResultText("No " + strings.ToLower(title) + "."), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d):\n", title, len(matches))
	for _, m := range matches {
		b.WriteString(formatMatch(m))
		b.WriteByte('\n')
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleListOpenMatches(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.matchList(ctx, "list_open_matches", "Open matches", s.svc.ListOpenMatches)
}

func (s *Server) handleMyMatches(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.matchList(ctx, "my_matches", "Upcoming matches", s.svc.MyUpcomingMatches)
}

func (s *Server) matchAction(ctx context.Context, request mcp.CallToolRequest, tool, verb string, act func(context.Context, int) (*domain.Match, error)) (*mcp.CallToolResult, error) {
	id, err := intArg(request, "match_id", 0, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	match, err := act(ctx, id)
	if err != nil {
		return s.toolError(tool, err), nil
	}
	return mcp.NewToolResultText(verb + ": " + formatMatch(*match)), nil
}

func (s *Server) handleJoinMatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.matchAction(ctx, request, "join_match", "Joined", s.svc.JoinMatch)
}

func (s *Server) handleLeaveMatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.matchAction(ctx, request, "leave_match", "Left", s.svc.LeaveMatch)
}

func (s *Server) handleChatHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := intArg(request, "match_id", 0, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msgs, err := s.svc.ChatHistory(ctx, id)
	if err != nil {
		return s.toolError("chat_history", err), nil
	}
	if len(msgs) == 0 {
		return mcp.NewToolResultText("No messages yet."), nil
	}
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.CreatedAt.Format("Jan 2 15:04"), m.Username, m.Message)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleRealtimeStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.statuses == nil {
		return mcp.NewToolResultText("Live updates are not running in this process."), nil
	}
	statuses := s.statuses.Statuses()
	if len(statuses) == 0 {
		return mcp.NewToolResultText("No live channels opened yet."), nil
	}
	var b strings.Builder
	for _, st := range statuses {
		b.WriteString(formatStatus(st))
		b.WriteByte('\n')
	}
	return mcp.NewToolResultText(b.String()), nil
}
