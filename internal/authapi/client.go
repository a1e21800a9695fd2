// Package authapi is a client for the upstream authentication REST API. Each
// call is a single round trip carrying the browser's session cookies; there
// are no retries and no client-side timeout beyond the caller's context.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/isdelr/ender-console/internal/models"
)

const maxErrorBody = 64 << 10

// Credentials are the session credentials forwarded upstream on behalf of a
// browser request.
type Credentials struct {
	Cookies   []*http.Cookie
	RequestID string
}

// CredentialsFromRequest copies the cookies of r, minus the named ones, and
// the request id assigned by the router middleware.
func CredentialsFromRequest(r *http.Request, exclude ...string) Credentials {
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}
	var cookies []*http.Cookie
	for _, c := range r.Cookies() {
		if skip[c.Name] {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return Credentials{
		Cookies:   cookies,
		RequestID: middleware.GetReqID(r.Context()),
	}
}

// UserAPI is the user-management surface of the auth API.
type UserAPI interface {
	ListUsers(ctx context.Context, creds Credentials) ([]models.SessionUser, error)
	CreateUser(ctx context.Context, creds Credentials, input models.CreateUserInput) (models.SessionUser, error)
	DeleteUser(ctx context.Context, creds Credentials, id int64) error
}

// SessionAPI is the session surface of the auth API.
type SessionAPI interface {
	Me(ctx context.Context, creds Credentials) (models.SessionUser, error)
	Logout(ctx context.Context, creds Credentials) error
}

// Client talks to the auth API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// New creates a Client for the API rooted at baseURL. A nil httpClient uses a
// plain http.Client with no timeout.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream url %q must be absolute", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: u, http: httpClient}, nil
}

// Me returns the identity of the session behind creds.
func (c *Client) Me(ctx context.Context, creds Credentials) (models.SessionUser, error) {
	var body struct {
		User *models.SessionUser `json:"user"`
	}
	if err := c.do(ctx, creds, "me", http.MethodGet, "/api/auth/me", nil, &body); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return models.SessionUser{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
		return models.SessionUser{}, err
	}
	if body.User == nil {
		return models.SessionUser{}, &DecodeError{Op: "me", Err: errors.New("missing user")}
	}
	if err := body.User.Validate(); err != nil {
		return models.SessionUser{}, &DecodeError{Op: "me", Err: err}
	}
	return *body.User, nil
}

// Logout ends the upstream session. The response body is ignored.
func (c *Client) Logout(ctx context.Context, creds Credentials) error {
	return c.do(ctx, creds, "logout", http.MethodPost, "/api/auth/logout", nil, nil)
}

// ListUsers returns all accounts in server order.
func (c *Client) ListUsers(ctx context.Context, creds Credentials) ([]models.SessionUser, error) {
	var body struct {
		Users *[]models.SessionUser `json:"users"`
	}
	if err := c.do(ctx, creds, "list users", http.MethodGet, "/api/auth/users", nil, &body); err != nil {
		return nil, err
	}
	if body.Users == nil {
		return nil, &DecodeError{Op: "list users", Err: errors.New("missing users")}
	}
	users := *body.Users
	for i := range users {
		if err := users[i].Validate(); err != nil {
			return nil, &DecodeError{Op: "list users", Err: err}
		}
	}
	return users, nil
}

// CreateUser creates an account. The created record is returned when the
// server includes one.
func (c *Client) CreateUser(ctx context.Context, creds Credentials, input models.CreateUserInput) (models.SessionUser, error) {
	var body struct {
		User *models.SessionUser `json:"user"`
	}
	if err := c.do(ctx, creds, "create user", http.MethodPost, "/api/auth/users", input, &body); err != nil {
		return models.SessionUser{}, err
	}
	if body.User == nil {
		return models.SessionUser{}, nil
	}
	return *body.User, nil
}

// DeleteUser removes the account with the given id.
func (c *Client) DeleteUser(ctx context.Context, creds Credentials, id int64) error {
	path := "/api/auth/users/" + strconv.FormatInt(id, 10)
	return c.do(ctx, creds, "delete user", http.MethodDelete, path, nil, nil)
}

// ChangePassword changes the password of the session's own account.
func (c *Client) ChangePassword(ctx context.Context, creds Credentials, current, next string) error {
	payload := map[string]string{
		"current_password": current,
		"new_password":     next,
	}
	return c.do(ctx, creds, "change password", http.MethodPost, "/api/auth/change-password", payload, nil)
}

func (c *Client) do(ctx context.Context, creds Credentials, op, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("authapi: encode %s: %w", op, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reqBody)
	if err != nil {
		return fmt.Errorf("authapi: build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := creds.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)
	for _, cookie := range creds.Cookies {
		req.AddCookie(cookie)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return apiErr
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}
