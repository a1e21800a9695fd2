package models

import "time"

// Event is an audit record of an action taken through the console.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`  // e.g., "user.create", "auth.logout.fail"
	Level     string    `json:"level"` // e.g., "info", "warn", "error"
	Message   string    `json:"message"`
	Actor     *string   `json:"actor,omitempty"` // Nullable for system events such as sweeps
	CreatedAt time.Time `json:"createdAt"`
}
