package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role is the access level of an account.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// SessionUser is an account as reported by the auth API. The console never
// persists it; every page load fetches a fresh copy.
type SessionUser struct {
	ID         int64      `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email"`
	FullName   string     `json:"full_name,omitempty"`
	Department string     `json:"department,omitempty"`
	Role       Role       `json:"role"`
	IsActive   bool       `json:"is_active"`
	LastLogin  *Timestamp `json:"last_login,omitempty"`
	CreatedAt  *Timestamp `json:"created_at,omitempty"`
}

// DisplayName returns the full name, or the username when none is set.
func (u SessionUser) DisplayName() string {
	if strings.TrimSpace(u.FullName) != "" {
		return u.FullName
	}
	return u.Username
}

// IsAdmin reports whether the user holds the admin role.
func (u SessionUser) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Validate checks the fields rendering depends on.
func (u SessionUser) Validate() error {
	if u.ID == 0 {
		return fmt.Errorf("user: missing id")
	}
	if u.Username == "" {
		return fmt.Errorf("user %d: missing username", u.ID)
	}
	if !u.Role.Valid() {
		return fmt.Errorf("user %d: invalid role %q", u.ID, u.Role)
	}
	return nil
}

// CreateUserInput is the body of a user creation request.
type CreateUserInput struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	FullName   string `json:"full_name"`
	Department string `json:"department"`
	Password   string `json:"password"`
	Role       Role   `json:"role"`
}

// Timestamp decodes both RFC3339 and the naive ISO layout the auth API emits
// for UTC datetimes (no zone suffix).
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if raw == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", raw)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format(time.RFC3339))
}
