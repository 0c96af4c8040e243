// Package mcp exposes the court booking API to AI agents over the Model
// Context Protocol.
//
// Tools:
//   - list_courts, get_court: courts with price and active flag
//   - create_court, update_court, delete_court: court administration, staff only
//   - check_availability: which active courts are free for a time range
//   - weekly_availability: free hours 6-23 per day for one court
//   - list_bookings, create_booking: bookings of the logged in user
//   - list_users, delete_user: user administration, staff only
//   - list_open_matches, my_matches: matches looking for players
//   - join_match, leave_match: take or give up a spot
//   - chat_history: messages of a match chat
//   - realtime_status: state of each live push channel
//
// Tool handlers call a Service, normally *usecase.Service backed by the REST
// repositories, so the agent acts with the token saved by the login command.
// API failures are returned as tool errors, never as protocol errors.
//
// Usage:
//
//	srv := mcp.NewServer(svc, realtimeService, logger)
//	if err := srv.ServeStdio(); err != nil {
//		log.Fatal(err)
//	}
package mcp
