package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Event names reported to state listeners.
type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// User is the subset of the auth user record the app reads.
type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
}

// Session is an issued token pair.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}

// APIError is a non-2xx response from the auth service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth: %s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("auth: %s (%d)", e.Message, e.Status)
}

type errorBody struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (b errorBody) text() string {
	for _, s := range []string{b.Msg, b.Message, b.ErrorDescription, b.Error} {
		if s != "" {
			return s
		}
	}
	return "request failed"
}

// Client calls the GoTrue REST API and remembers the current session.
type Client struct {
	http *resty.Client
	log  zerolog.Logger

	mu        sync.RWMutex
	session   *Session
	nextID    int
	listeners map[int]func(Event, *Session)
}

// NewClient returns a client for the project at baseURL.
func NewClient(baseURL, anonKey string, log zerolog.Logger) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")+"/auth/v1").
		SetHeader("Content-Type", "application/json").
		SetHeader("apikey", anonKey).
		SetTimeout(15 * time.Second)

	return &Client{
		http:      c,
		log:       log.With().Str("component", "auth-client").Logger(),
		listeners: make(map[int]func(Event, *Session)),
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUp registers a user. The returned session is nil when the project
// requires email confirmation first.
func (c *Client) SignUp(ctx context.Context, email, password string) (*User, *Session, error) {
	var body struct {
		Session
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := c.do(ctx, http.MethodPost, "/signup", "", credentials{email, password}, &body); err != nil {
		return nil, nil, err
	}
	if body.AccessToken == "" {
		return &User{ID: body.ID, Email: body.Email}, nil, nil
	}
	s := body.Session
	c.setSession(EventSignedIn, &s)
	return &s.User, &s, nil
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", credentials{email, password}, &s); err != nil {
		return nil, err
	}
	c.setSession(EventSignedIn, &s)
	return &s, nil
}

// Refresh trades a refresh token for a new session.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	var s Session
	req := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", req, &s); err != nil {
		return nil, err
	}
	c.setSession(EventTokenRefreshed, &s)
	return &s, nil
}

// Resend re-sends the signup confirmation email.
func (c *Client) Resend(ctx context.Context, email string) error {
	req := map[string]string{"type": "signup", "email": email}
	return c.do(ctx, http.MethodPost, "/resend", "", req, nil)
}

// GetUser returns the user an access token belongs to.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SignOut revokes the session behind accessToken and forgets the current
// session. A failed remote call still clears local state.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	err := c.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil)
	c.setSession(EventSignedOut, nil)
	return err
}

// GetSession returns the last session obtained through this client.
func (c *Client) GetSession() (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, false
	}
	s := *c.session
	return &s, true
}

// OnAuthStateChange registers fn for sign-in, refresh and sign-out events and
// returns a func that unregisters it.
func (c *Client) OnAuthStateChange(fn func(Event, *Session)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) setSession(ev Event, s *Session) {
	c.mu.Lock()
	c.session = s
	fns := make([]func(Event, *Session), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev, s)
	}
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body, out any) error {
	var apiErr errorBody
	req := c.http.R().SetContext(ctx).SetError(&apiErr)
	if bearer != "" {
		req.SetAuthToken(bearer)
	}
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("auth request %s: %w", path, err)
	}
	if resp.IsError() {
		e := &APIError{Status: resp.StatusCode(), Code: apiErr.ErrorCode, Message: apiErr.text()}
		c.log.Debug().Int("status", e.Status).Str("path", path).Msg(e.Message)
		if resp.StatusCode() == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", ErrUnauthorized, e.Message)
		}
		return e
	}
	return nil
}
