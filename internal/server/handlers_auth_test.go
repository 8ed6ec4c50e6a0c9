package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/HarbingerOfTheEnd/PricePulse/internal/domain"
)

func doJSON(t *testing.T, srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleSignup_Success(t *testing.T) {
	d := newTestDeps()
	var inserted *domain.User
	d.users.insertFn = func(_ context.Context, user *domain.User) (int64, error) {
		inserted = user
		return 7, nil
	}
	srv := newTestServer(t, d)

	rec := doJSON(t, srv, http.MethodPost, "/signup",
		`{"email":"a@example.com","password":"hunter22","name":"Ada"}`, nil)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 7.0, decodeBody(t, rec)["user_id"])

	require.NotNil(t, inserted)
	assert.Equal(t, "a@example.com", inserted.Email)
	assert.NotEqual(t, "hunter22", inserted.PasswordHash, "password must be hashed")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(inserted.PasswordHash), []byte("hunter22")))
}

func TestHandleSignup_MissingFields(t *testing.T) {
	srv := newTestServer(t, newTestDeps())

	rec := doJSON(t, srv, http.MethodPost, "/signup", `{"email":"a@example.com"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSignup_EmailTaken(t *testing.T) {
	d := newTestDeps()
	d.users.insertFn = func(context.Context, *domain.User) (int64, error) {
		return 0, domain.ErrEmailTaken
	}
	srv := newTestServer(t, d)

	rec := doJSON(t, srv, http.MethodPost, "/signup",
		`{"email":"a@example.com","password":"pw","name":"Ada"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleSignin_Success(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	require.NoError(t, err)

	d := newTestDeps()
	d.users.getByEmailFn = func(_ context.Context, email string) (*domain.User, error) {
		assert.Equal(t, "a@example.com", email)
		return &domain.User{ID: 7, Email: email, PasswordHash: string(hash)}, nil
	}
	var sessionUser int64
	d.sessions.createFn = func(_ context.Context, userID int64) (string, error) {
		sessionUser = userID
		return "tok-123", nil
	}
	srv := newTestServer(t, d)

	rec := doJSON(t, srv, http.MethodPost, "/signin",
		`{"email":"a@example.com","password":"hunter22"}`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "tok-123", body["token"])
	assert.Equal(t, 7.0, body["user_id"])
	assert.Equal(t, int64(7), sessionUser)
}

func TestHandleSignin_WrongPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct"), bcrypt.MinCost)
	require.NoError(t, err)

	d := newTestDeps()
	d.users.getByEmailFn = func(_ context.Context, email string) (*domain.User, error) {
		return &domain.User{ID: 7, Email: email, PasswordHash: string(hash)}, nil
	}
	srv := newTestServer(t, d)

	rec := doJSON(t, srv, http.MethodPost, "/signin",
		`{"email":"a@example.com","password":"wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleSignin_UnknownUser(t *testing.T) {
	srv := newTestServer(t, newTestDeps())

	rec := doJSON(t, srv, http.MethodPost, "/signin",
		`{"email":"nobody@example.com","password":"pw"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleLogout_DestroysSession(t *testing.T) {
	d := newTestDeps()
	d.sessions = authedSessions(7)
	var destroyed string
	d.sessions.destroyFn = func(_ context.Context, token string) error {
		destroyed = token
		return nil
	}
	srv := newTestServer(t, d)

	rec := doJSON(t, srv, http.MethodPost, "/logout", "",
		map[string]string{"Authorization": "Bearer tok-123"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok-123", destroyed)
}

func TestRequireAuth_MissingToken(t *testing.T) {
	srv := newTestServer(t, newTestDeps())

	rec := doJSON(t, srv, http.MethodGet, "/products", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_ExpiredSession(t *testing.T) {
	d := newTestDeps()
	d.sessions.lookupFn = func(context.Context, string) (int64, error) {
		return 0, domain.ErrSessionNotFound
	}
	srv := newTestServer(t, d)

	rec := doJSON(t, srv, http.MethodGet, "/products", "",
		map[string]string{"Authorization": "Bearer stale"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
