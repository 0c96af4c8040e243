// Package api is an in-memory stand-in for the court booking backend.
//
// It serves the same REST paths, JSON shapes and push channels as the
// production server so the CLI, the MCP server and the integration tests
// can run without it. State lives in a Store and is lost on exit.
//
// Endpoints:
//
// Auth:
//   - POST /api/users/login/ - Exchange username/password for a JWT pair
//
// Users (staff only unless noted):
//   - GET /api/users/users/ - List users
//   - GET /api/users/users/me/ - The caller (any user)
//   - POST /api/users/users/{id}/activate/ and /deactivate/
//
// Courts:
//   - GET /api/courts/ and /api/courts/{id}/
//   - PATCH /api/courts/{id}/ - Toggle is_active (staff)
//   - GET /api/courts/availability/?start_time=&end_time=
//   - GET /api/courts/{id}/weekly-availability/?start_date=&end_date=
//
// Bookings and matches:
//   - GET|POST /api/bookings/bookings/
//   - GET|POST /api/matches/open-matches/
//   - GET /api/matches/open-matches/my-upcoming-matches/
//   - POST /api/matches/open-matches/{id}/join|leave|cancel|remove_participant/
//   - GET /api/chat/messages/?match_id=
//
// Push channels take the access token as the token query parameter:
//
//	/ws/bookings/  booking_created
//	/ws/users/     user_updated (staff only)
//	/ws/matches/   match_*, participant_*, chat_notification
//	/ws/chat/{id}/ chat_message, typing, error
//
// Error Handling:
//
// Validation errors are {"error": "..."}; auth and permission errors are
// {"detail": "..."}, both with the matching HTTP status. The chat channel
// refuses connections with close codes 4001 to 4004.
package api
