// Package domain holds the courtside entities as the booking backend
// serializes them, and the repository interfaces the rest of the module
// programs against.
//
// Field names and JSON tags follow the backend wire format: snake_case keys,
// integer ids, decimal prices as strings and RFC 3339 timestamps.
package domain
