package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/todo-service/internal/api/http/handlers"
	"github.com/spec-kit/todo-service/internal/auth"
	"github.com/spec-kit/todo-service/internal/domain"
	"github.com/spec-kit/todo-service/internal/observability"
	"github.com/spec-kit/todo-service/internal/repository"
	"github.com/spec-kit/todo-service/internal/service"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type testServer struct {
	app      *fiber.App
	codec    *auth.TokenCodec
	accounts *repository.MemoryAccountRepository
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestServer(t *testing.T, transport string, deps map[string]handlers.Pinger, codecOpts ...auth.CodecOption) *testServer {
	return newTestServerWithLogger(t, transport, deps, zap.NewNop(), codecOpts...)
}

func newTestServerWithLogger(t *testing.T, transport string, deps map[string]handlers.Pinger, logger *zap.Logger, codecOpts ...auth.CodecOption) *testServer {
	t.Helper()
	codec, err := auth.NewTokenCodec(testSecret, time.Hour, codecOpts...)
	require.NoError(t, err)

	accounts := repository.NewMemoryAccountRepository()
	authService, err := service.NewAuthService(service.AuthDependencies{
		Accounts: accounts,
		Hasher:   auth.NewBcryptHasher(bcrypt.MinCost),
		Codec:    codec,
		Logger:   logger,
	})
	require.NoError(t, err)
	require.NoError(t, authService.EnsureAdmin(context.Background(), "root", "rootpass"))

	carrier, err := auth.NewTokenCarrier(transport, "", false)
	require.NoError(t, err)

	metrics := observability.NewMetrics()
	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, 5*time.Second)
	RegisterRoutes(app, RouteConfig{
		Health: handlers.NewHealthHandler("todo-service", "test", deps, logger),
		Auth:   handlers.NewAuthHandler(authService, carrier),
		Tasks:  handlers.NewTasksHandler(service.NewTaskService(repository.NewMemoryTaskRepository(), nil, logger)),
		Admin:  handlers.NewAdminHandler(authService, metrics),
		Binder: auth.NewIdentityBinder(codec, carrier, accounts, logger),
	})
	return &testServer{app: app, codec: codec, accounts: accounts}
}

type response struct {
	status  int
	body    map[string]any
	raw     string
	cookies []*http.Cookie
}

func (s *testServer) do(t *testing.T, method, path, body string, mutate ...func(*http.Request)) response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mutate {
		m(req)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := response{status: resp.StatusCode, raw: string(raw), cookies: resp.Cookies()}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out.body)
	}
	return out
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value}) }
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func errorCode(t *testing.T, r response) string {
	t.Helper()
	errBody, ok := r.body["error"].(map[string]any)
	require.True(t, ok, "expected error body, got %s", r.raw)
	return errBody["code"].(string)
}

func loginCookie(t *testing.T, s *testServer, username, password string) *http.Cookie {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/auth/authenticate", `{"username":"`+username+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusOK, resp.status, resp.raw)
	require.Len(t, resp.cookies, 1)
	return resp.cookies[0]
}

func TestAuthFlow_CookieEndToEnd(t *testing.T) {
	s := newTestServer(t, "cookie", nil)

	resp := s.do(t, http.MethodPost, "/register", `{"username":"alice","password":"s3cret!"}`)
	require.Equal(t, http.StatusOK, resp.status, resp.raw)
	data := resp.body["data"].(map[string]any)
	assert.Equal(t, "user registered", data["message"])
	assert.Equal(t, "alice", data["username"])

	resp = s.do(t, http.MethodPost, "/register", `{"username":"alice","password":"other"}`)
	assert.Equal(t, http.StatusConflict, resp.status)

	cookie := loginCookie(t, s, "alice", "s3cret!")
	assert.Equal(t, auth.DefaultCookieName, cookie.Name)
	assert.True(t, cookie.HttpOnly)

	resp = s.do(t, http.MethodGet, "/auth/me", "", withCookie(cookie))
	require.Equal(t, http.StatusOK, resp.status, resp.raw)
	me := resp.body["data"].(map[string]any)
	assert.Equal(t, "alice", me["username"])
	assert.Equal(t, []any{"USER"}, me["roles"])

	resp = s.do(t, http.MethodGet, "/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, resp))

	resp = s.do(t, http.MethodPost, "/auth/logout", "", withCookie(cookie))
	require.Equal(t, http.StatusOK, resp.status)
	require.Len(t, resp.cookies, 1)
	assert.Empty(t, resp.cookies[0].Value)
}

func TestAuthFlow_ExpiredTokenIsAnonymous(t *testing.T) {
	s := newTestServer(t, "cookie", nil)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/register", `{"username":"alice","password":"s3cret!"}`).status)

	past, err := auth.NewTokenCodec(testSecret, time.Minute, auth.WithClock(func() time.Time {
		return time.Now().Add(-time.Hour)
	}))
	require.NoError(t, err)
	expired, _, err := past.Issue(&domain.Identity{Username: "alice", Roles: domain.DefaultRoles()})
	require.NoError(t, err)

	resp := s.do(t, http.MethodGet, "/tasks", "", withCookie(&http.Cookie{Name: auth.DefaultCookieName, Value: expired}))
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	resp = s.do(t, http.MethodPost, "/register", `{"username":"bob","password":"pw-bob"}`,
		withCookie(&http.Cookie{Name: auth.DefaultCookieName, Value: expired}))
	assert.Equal(t, http.StatusOK, resp.status)
}

func TestAuthFlow_FailuresAreIndistinguishable(t *testing.T) {
	s := newTestServer(t, "cookie", nil)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/register", `{"username":"alice","password":"s3cret!"}`).status)

	wrongPassword := s.do(t, http.MethodPost, "/auth/authenticate", `{"username":"alice","password":"nope"}`)
	unknownUser := s.do(t, http.MethodPost, "/auth/authenticate", `{"username":"mallory","password":"nope"}`)

	assert.Equal(t, http.StatusBadRequest, wrongPassword.status)
	assert.Equal(t, wrongPassword.status, unknownUser.status)
	assert.Equal(t, wrongPassword.raw, unknownUser.raw)
	assert.Equal(t, "AUTHENTICATION_FAILED", errorCode(t, wrongPassword))
	assert.Empty(t, wrongPassword.cookies)
}

func TestAuthFlow_FormLogin(t *testing.T) {
	s := newTestServer(t, "cookie", nil)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/register", `{"username":"alice","password":"s3cret!"}`).status)

	form := url.Values{"username": {"alice"}, "password": {"s3cret!"}}.Encode()
	req := httptest.NewRequest(http.MethodPost, "/auth/authenticate", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, resp.Cookies(), 1)
}

func postForm(t *testing.T, s *testServer, path string, values url.Values) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestAuthFlow_FormRegistrationSurvivesLaterRequests(t *testing.T) {
	s := newTestServer(t, "cookie", nil)

	status := postForm(t, s, "/register", url.Values{"username": {"alice"}, "password": {"secret123"}})
	require.Equal(t, http.StatusOK, status)

	for i := 0; i < 5; i++ {
		status = postForm(t, s, "/auth/authenticate", url.Values{"username": {"zzzzz"}, "password": {"nopenope1"}})
		assert.Equal(t, http.StatusBadRequest, status)
	}

	_, err := s.accounts.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)

	resp := s.do(t, http.MethodPost, "/auth/authenticate", `{"username":"alice","password":"secret123"}`)
	assert.Equal(t, http.StatusOK, resp.status, resp.raw)
}

func TestAuthFlow_BearerTransport(t *testing.T) {
	s := newTestServer(t, "bearer", nil)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/register", `{"username":"alice","password":"s3cret!"}`).status)

	resp := s.do(t, http.MethodPost, "/auth/authenticate", `{"username":"alice","password":"s3cret!"}`)
	require.Equal(t, http.StatusOK, resp.status, resp.raw)
	assert.Empty(t, resp.cookies)
	token, _ := resp.body["data"].(map[string]any)["token"].(string)
	require.NotEmpty(t, token)
	assert.True(t, s.codec.Validate(token, "alice"))

	resp = s.do(t, http.MethodGet, "/auth/me", "", withBearer(token))
	assert.Equal(t, http.StatusOK, resp.status)

	resp = s.do(t, http.MethodGet, "/auth/me", "", withCookie(&http.Cookie{Name: auth.DefaultCookieName, Value: token}))
	assert.Equal(t, http.StatusUnauthorized, resp.status)
}

func TestTasksRoutes(t *testing.T) {
	s := newTestServer(t, "cookie", nil)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/register", `{"username":"alice","password":"s3cret!"}`).status)
	cookie := loginCookie(t, s, "alice", "s3cret!")

	resp := s.do(t, http.MethodPost, "/tasks", `{"title":"write report","description":"q3"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	resp = s.do(t, http.MethodPost, "/tasks", `{"title":"write report","description":"q3"}`, withCookie(cookie))
	require.Equal(t, http.StatusCreated, resp.status, resp.raw)
	created := resp.body["data"].(map[string]any)
	assert.Equal(t, "RESEARCHING", created["status"])
	id := int64(created["id"].(float64))
	path := "/tasks/" + strconv.FormatInt(id, 10)

	resp = s.do(t, http.MethodPut, path, `{"title":"write report","status":"COMPLETED"}`, withCookie(cookie))
	require.Equal(t, http.StatusOK, resp.status, resp.raw)
	assert.Equal(t, "COMPLETED", resp.body["data"].(map[string]any)["status"])

	resp = s.do(t, http.MethodGet, "/tasks", "", withCookie(cookie))
	require.Equal(t, http.StatusOK, resp.status)
	assert.Len(t, resp.body["data"], 1)

	resp = s.do(t, http.MethodPost, "/tasks", `{"title":"  "}`, withCookie(cookie))
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(t, resp))

	resp = s.do(t, http.MethodGet, "/tasks/abc", "", withCookie(cookie))
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = s.do(t, http.MethodDelete, path, "", withCookie(cookie))
	assert.Equal(t, http.StatusNoContent, resp.status)

	resp = s.do(t, http.MethodGet, path, "", withCookie(cookie))
	assert.Equal(t, http.StatusNotFound, resp.status)
	assert.Equal(t, "NOT_FOUND", errorCode(t, resp))
}

func TestAdminRoutes_RoleChangesApplyOnNextRequest(t *testing.T) {
	s := newTestServer(t, "cookie", nil)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/register", `{"username":"alice","password":"s3cret!"}`).status)
	alice := loginCookie(t, s, "alice", "s3cret!")
	root := loginCookie(t, s, "root", "rootpass")

	resp := s.do(t, http.MethodGet, "/admin/users/alice", "", withCookie(alice))
	assert.Equal(t, http.StatusForbidden, resp.status)
	assert.Equal(t, "FORBIDDEN", errorCode(t, resp))

	resp = s.do(t, http.MethodGet, "/admin/users/alice", "")
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	resp = s.do(t, http.MethodGet, "/admin/users/alice", "", withCookie(root))
	require.Equal(t, http.StatusOK, resp.status, resp.raw)

	resp = s.do(t, http.MethodPut, "/admin/users/alice/roles", `{"roles":["USER","ADMIN"]}`, withCookie(root))
	require.Equal(t, http.StatusOK, resp.status, resp.raw)

	// Same token as before, now with the fresh role set.
	resp = s.do(t, http.MethodGet, "/admin/metrics", "", withCookie(alice))
	require.Equal(t, http.StatusOK, resp.status, resp.raw)
	assert.Contains(t, resp.body["data"], "requests")

	resp = s.do(t, http.MethodPut, "/admin/users/ghost/roles", `{"roles":["USER"]}`, withCookie(root))
	assert.Equal(t, http.StatusNotFound, resp.status)
}

func TestErrorMiddleware_UnknownRouteAndInternalErrors(t *testing.T) {
	s := newTestServer(t, "cookie", nil)

	resp := s.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.status)
	assert.Equal(t, "NOT_FOUND", errorCode(t, resp))

	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), nil, 0)
	app.Get("/boom", func(*fiber.Ctx) error { return errors.New("pq: password=hunter2") })
	app.Get("/panic", func(*fiber.Ctx) error { panic("kaboom") })

	for _, path := range []string{"/boom", "/panic"} {
		r, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		raw, _ := io.ReadAll(r.Body)
		r.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, r.StatusCode)
		assert.JSONEq(t, `{"error":{"code":"INTERNAL_ERROR","message":"internal server error"}}`, string(raw))
	}
}

func TestHealthRoutes(t *testing.T) {
	s := newTestServer(t, "cookie", map[string]handlers.Pinger{
		"postgres": pingerFunc(func(context.Context) error { return nil }),
	})
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health/live", "").status)

	resp := s.do(t, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "ok", resp.body["dependencies"].(map[string]any)["postgres"])

	core, logs := observer.New(zapcore.WarnLevel)
	down := newTestServerWithLogger(t, "cookie", map[string]handlers.Pinger{
		"redis": pingerFunc(func(context.Context) error { return errors.New("dial tcp 10.0.0.7:6379: connection refused") }),
	}, zap.New(core))
	resp = down.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.status)
	assert.Equal(t, "DEPENDENCY_UNAVAILABLE", errorCode(t, resp))
	details := resp.body["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, "unavailable", details["redis"])
	assert.NotContains(t, resp.raw, "10.0.0.7")

	failed := logs.FilterMessage("readiness check failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "redis", failed[0].ContextMap()["dependency"])
}
