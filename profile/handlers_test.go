package profile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-runner-lcs/api-template-go/auth"
	"github.com/code-runner-lcs/api-template-go/logging"
	"github.com/code-runner-lcs/api-template-go/users"
)

// failingStore fails every call.
type failingStore struct{ users.Store }

func (failingStore) FindByEmail(context.Context, string) (*users.User, error) {
	return nil, errors.New("connection reset")
}

func newTestStore(t *testing.T) (*users.MemoryStore, *users.User) {
	t.Helper()
	store := users.NewMemoryStore()
	u, err := store.Create(context.Background(), "Ada", "ada@example.com", "$2a$04$hash")
	require.NoError(t, err)
	return store, u
}

// serve runs req through the /users routes as if the gate had authenticated u.
func serve(h *Handlers, req *http.Request, u *users.User) *httptest.ResponseRecorder {
	if u != nil {
		req = req.WithContext(auth.NewContextWithIdentity(req.Context(), auth.IdentityFromUser(u)))
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestGetProfile(t *testing.T) {
	store, u := newTestStore(t)
	h := NewHandlers(store, logging.Discard())

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/me", nil), u)
	require.Equal(t, http.StatusOK, rec.Code)

	var got ProfileResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "Ada", got.Name)
	assert.False(t, got.IsEmailConfirmed)
	assert.NotContains(t, rec.Body.String(), "hash")
}

func TestGetProfile_NoIdentity(t *testing.T) {
	store, _ := newTestStore(t)
	h := NewHandlers(store, logging.Discard())

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/me", nil), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetProfile_StoreFailure(t *testing.T) {
	_, u := newTestStore(t)
	h := NewHandlers(failingStore{}, logging.Discard())

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/me", nil), u)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}

func TestUpdateProfile(t *testing.T) {
	store, u := newTestStore(t)
	h := NewHandlers(store, logging.Discard())

	rec := serve(h, httptest.NewRequest(http.MethodPatch, "/me", strings.NewReader(`{"name":"  Ada Lovelace "}`)), u)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got ProfileResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "Ada Lovelace", got.Name)

	stored, err := store.FindByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", stored.Name)
	assert.Equal(t, "$2a$04$hash", stored.PasswordHash, "password must be untouched")
}

func TestUpdateProfile_BadInput(t *testing.T) {
	store, u := newTestStore(t)
	h := NewHandlers(store, logging.Discard())

	tests := map[string]string{
		"no fields":  `{}`,
		"blank name": `{"name":"   "}`,
		"not json":   `name=Ada`,
		"too long":   `{"name":"` + strings.Repeat("a", 101) + `"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := serve(h, httptest.NewRequest(http.MethodPatch, "/me", strings.NewReader(body)), u)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
