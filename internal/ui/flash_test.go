package ui

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlash_RoundTripAndClear(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteFlash(rec, Notice{Kind: "error", Text: "Current password is incorrect"})
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	n := ReadFlash(rec, req)

	require.NotNil(t, n)
	assert.Equal(t, Notice{Kind: "error", Text: "Current password is incorrect"}, *n)
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Less(t, cleared[0].MaxAge, 0)
}

func TestFlash_IgnoresGarbage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: FlashCookie, Value: "%%%"})
	assert.Nil(t, ReadFlash(httptest.NewRecorder(), req))

	rec := httptest.NewRecorder()
	WriteFlash(rec, Notice{Kind: "shout", Text: "x"})
	assert.Empty(t, rec.Result().Cookies())
}
