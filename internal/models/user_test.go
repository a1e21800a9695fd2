package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionUserDecode_NaiveTimestamp(t *testing.T) {
	var u SessionUser
	err := json.Unmarshal([]byte(`{"id":3,"username":"carol","email":"c@x.com","role":"user","is_active":true,"last_login":"2024-05-01T10:20:30.123456"}`), &u)
	require.NoError(t, err)
	require.NotNil(t, u.LastLogin)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 20, 30, 123456000, time.UTC), u.LastLogin.Time)
	assert.NoError(t, u.Validate())
}

func TestSessionUserDecode_NullLastLogin(t *testing.T) {
	var u SessionUser
	err := json.Unmarshal([]byte(`{"id":2,"username":"bob","role":"user","is_active":false,"last_login":null}`), &u)
	require.NoError(t, err)
	assert.Nil(t, u.LastLogin)
}

func TestTimestamp_RejectsGarbage(t *testing.T) {
	var u SessionUser
	err := json.Unmarshal([]byte(`{"id":2,"username":"bob","role":"user","last_login":"yesterday"}`), &u)
	assert.Error(t, err)
}

func TestSessionUserValidate(t *testing.T) {
	cases := map[string]SessionUser{
		"missing id":       {Username: "a", Role: RoleUser},
		"missing username": {ID: 1, Role: RoleUser},
		"bad role":         {ID: 1, Username: "a", Role: "root"},
	}
	for name, u := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, u.Validate())
		})
	}
	assert.NoError(t, SessionUser{ID: 1, Username: "a", Role: RoleAdmin}.Validate())
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "alice", SessionUser{Username: "alice"}.DisplayName())
	assert.Equal(t, "Alice Liddell", SessionUser{Username: "alice", FullName: "Alice Liddell"}.DisplayName())
	assert.Equal(t, "alice", SessionUser{Username: "alice", FullName: "  "}.DisplayName())
}
