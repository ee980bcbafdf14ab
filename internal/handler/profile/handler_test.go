package profile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/companion/backend/internal/repository"
	"github.com/zhouzirui/companion/backend/internal/service/auth"
)

type memoryRemote struct {
	repository.Unavailable
	profiles map[string]repository.Profile
	feedback []repository.Feedback
}

func (m *memoryRemote) Profile(_ context.Context, userID string) (repository.Profile, error) {
	p, ok := m.profiles[userID]
	if !ok {
		return repository.Profile{}, repository.ErrNotFound
	}
	return p, nil
}

func (m *memoryRemote) UpsertProfile(_ context.Context, p repository.Profile) error {
	m.profiles[p.ID] = p
	return nil
}

func (m *memoryRemote) InsertFeedback(_ context.Context, f repository.Feedback) error {
	m.feedback = append(m.feedback, f)
	return nil
}

func setupRouter(remote repository.Remote, userID string) *chi.Mux {
	h := New(remote, zerolog.Nop())
	h.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if userID != "" {
				req = req.WithContext(auth.WithUserID(req.Context(), userID))
			}
			next.ServeHTTP(w, req)
		})
	})
	h.RegisterRoutes(r)
	return r
}

func request(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestProfileRequiresUser(t *testing.T) {
	r := setupRouter(&memoryRemote{profiles: map[string]repository.Profile{}}, "")

	require.Equal(t, http.StatusUnauthorized, request(r, http.MethodGet, "/profile", "").Code)
	require.Equal(t, http.StatusUnauthorized, request(r, http.MethodPost, "/feedback", `{"message":"hi"}`).Code)
}

func TestProfileRoundTrip(t *testing.T) {
	remote := &memoryRemote{profiles: map[string]repository.Profile{}}
	r := setupRouter(remote, "user-1")

	require.Equal(t, http.StatusNotFound, request(r, http.MethodGet, "/profile", "").Code)

	resp := request(r, http.MethodPut, "/profile", `{"name":"Asha","birthdate":"1994-03-12"}`)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = request(r, http.MethodGet, "/profile", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var got profileResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	require.Equal(t, profileResponse{ID: "user-1", Name: "Asha", Birthdate: "1994-03-12"}, got)
}

func TestProfileValidation(t *testing.T) {
	r := setupRouter(&memoryRemote{profiles: map[string]repository.Profile{}}, "user-1")

	cases := map[string]string{
		"missing name":   `{"birthdate":"1994-03-12"}`,
		"bad date":       `{"name":"Asha","birthdate":"12/03/1994"}`,
		"future date":    `{"name":"Asha","birthdate":"2030-01-01"}`,
		"unknown field":  `{"name":"Asha","age":31}`,
		"malformed json": `{`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, http.StatusBadRequest, request(r, http.MethodPut, "/profile", body).Code)
		})
	}
}

func TestFeedback(t *testing.T) {
	remote := &memoryRemote{profiles: map[string]repository.Profile{}}
	r := setupRouter(remote, "user-1")

	resp := request(r, http.MethodPost, "/feedback", `{"message":"Lovely app","rating":5}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	require.Len(t, remote.feedback, 1)
	require.Equal(t, "user-1", remote.feedback[0].UserID)
	require.Equal(t, 5, *remote.feedback[0].Rating)

	require.Equal(t, http.StatusBadRequest, request(r, http.MethodPost, "/feedback", `{"message":""}`).Code)
	require.Equal(t, http.StatusBadRequest, request(r, http.MethodPost, "/feedback", `{"message":"x","rating":9}`).Code)
}

func TestRemoteUnavailable(t *testing.T) {
	r := setupRouter(nil, "user-1")

	require.Equal(t, http.StatusServiceUnavailable, request(r, http.MethodGet, "/profile", "").Code)
	require.Equal(t, http.StatusServiceUnavailable, request(r, http.MethodPost, "/feedback", `{"message":"hi"}`).Code)
}
