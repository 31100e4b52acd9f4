package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startListener(t *testing.T, opts ...Option) *Listener {
	t.Helper()

	opts = append([]Option{
		WithPort(0),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	l := New(opts...)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(l.Stop)
	return l
}

func get(t *testing.T, l *Listener, path string) (int, string, http.Header) {
	t.Helper()

	resp, err := http.Get("http://" + l.Addr() + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body), resp.Header
}

func getJSON(t *testing.T, l *Listener, path string) map[string]any {
	t.Helper()

	status, body, header := get(t, l, path)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/json", header.Get("Content-Type"))

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	return out
}

func TestListener_CodeCallback(t *testing.T) {
	l := startListener(t)

	status, body, header := get(t, l, "/callback?code=abc")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Authentication Successful!")
	assert.Equal(t, "text/html; charset=utf-8", header.Get("Content-Type"))
	assert.Equal(t, "DENY", header.Get("X-Frame-Options"))
	assert.Equal(t, "no-store", header.Get("Cache-Control"))

	code, err := l.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "abc", code)

	res := l.Result()
	assert.True(t, res.Completed)
	assert.False(t, res.IsError())
}

func TestListener_AliasRoute(t *testing.T) {
	l := startListener(t)

	status, _, _ := get(t, l, "/app/envato/callback?code=xyz")
	assert.Equal(t, http.StatusOK, status)

	code, err := l.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "xyz", code)
}

func TestListener_FirstCallbackWins(t *testing.T) {
	l := startListener(t)

	status, _, _ := get(t, l, "/callback?code=first")
	require.Equal(t, http.StatusOK, status)

	// a later error does not overwrite the stored code
	status, body, _ := get(t, l, "/callback?error=access_denied")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Authentication Successful!")

	_, _, _ = get(t, l, "/callback?code=second")

	code, err := l.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", code)
	assert.Empty(t, l.Result().Error)
}

func TestListener_ProviderError(t *testing.T) {
	l := startListener(t)

	status, body, header := get(t, l, "/callback?error=access_denied&error_description=User+denied")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "Authentication Failed")
	assert.Contains(t, body, "access_denied")
	assert.Contains(t, body, "User denied")
	assert.Equal(t, "nosniff", header.Get("X-Content-Type-Options"))

	code, err := l.Await(context.Background(), time.Second)
	assert.Empty(t, code)

	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "access_denied", authErr.Code)
	assert.Equal(t, "User denied", authErr.Description)

	res := l.Result()
	assert.True(t, res.IsError())
	assert.Empty(t, res.Code)
}

func TestListener_ProviderErrorEscaped(t *testing.T) {
	l := startListener(t)

	_, body, _ := get(t, l, "/callback?error=%3Cscript%3Ealert(1)%3C%2Fscript%3E")
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")
	assert.Contains(t, body, "No description provided")
}

func TestListener_MissingParameters(t *testing.T) {
	l := startListener(t)

	status, body, _ := get(t, l, "/callback")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.JSONEq(t, `{"detail":"Missing authorization code or error parameter"}`, body)

	code, err := l.Await(context.Background(), time.Second)
	assert.Empty(t, code)

	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "Missing authorization code or error parameter", authErr.Description)

	status, _, _ = get(t, l, "/callback?code=late")
	assert.Equal(t, http.StatusBadRequest, status, "outcome is fixed after the first callback")
}

func TestListener_AwaitTimeout(t *testing.T) {
	l := startListener(t)

	start := time.Now()
	code, err := l.Await(context.Background(), time.Second)
	assert.Empty(t, code)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.False(t, l.Result().Completed)
}

func TestListener_AwaitContextCancelled(t *testing.T) {
	l := startListener(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := l.Await(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListener_AwaitCallbackDuringWait(t *testing.T) {
	l := startListener(t)

	go func() {
		time.Sleep(100 * time.Millisecond)
		resp, err := http.Get("http://" + l.Addr() + "/callback?code=later")
		if err == nil {
			resp.Body.Close()
		}
	}()

	code, err := l.Await(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "later", code)
}

func TestListener_Status(t *testing.T) {
	l := startListener(t)

	status := getJSON(t, l, "/status")
	assert.Equal(t, "running", status["server"])
	assert.Equal(t, false, status["oauth_completed"])
	assert.Equal(t, false, status["has_code"])
	assert.Equal(t, false, status["has_error"])
	assert.Equal(t, l.AttemptID(), status["attempt_id"])

	_, _, _ = get(t, l, "/callback?code=abc")

	status = getJSON(t, l, "/status")
	assert.Equal(t, true, status["oauth_completed"])
	assert.Equal(t, true, status["has_code"])
	assert.Equal(t, false, status["has_error"])
}

func TestListener_HealthAndRoot(t *testing.T) {
	l := startListener(t)

	health := getJSON(t, l, "/health")
	assert.Equal(t, map[string]any{"status": "healthy", "service": "envato-oauth-server"}, health)

	root := getJSON(t, l, "/")
	assert.Equal(t, "Envato OAuth Server is running. Waiting for callback...", root["message"])

	status, _, _ := get(t, l, "/unknown")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestListener_MethodNotAllowed(t *testing.T) {
	l := startListener(t)

	resp, err := http.Post("http://"+l.Addr()+"/callback?code=abc", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.False(t, l.Result().Completed)
}

func TestListener_PortInUse(t *testing.T) {
	first := startListener(t)

	_, port, ok := strings.Cut(first.Addr(), ":")
	require.True(t, ok)

	var n int
	_, err := fmt.Sscanf(port, "%d", &n)
	require.NoError(t, err)

	second := New(WithPort(n), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	err = second.Start(context.Background())
	assert.Error(t, err)
	assert.Empty(t, second.Addr())
}

func TestListener_BindsLoopbackOnly(t *testing.T) {
	l := startListener(t)
	assert.True(t, strings.HasPrefix(l.Addr(), "127.0.0.1:"))
	assert.True(t, strings.HasPrefix(l.RedirectURL(), "http://localhost:"))
	assert.True(t, strings.HasSuffix(l.RedirectURL(), "/callback"))
}

func TestListener_StopIdempotent(t *testing.T) {
	l := startListener(t)
	addr := l.Addr()

	l.Stop()
	l.Stop()

	client := &http.Client{Timeout: time.Second}
	_, err := client.Get("http://" + addr + "/health")
	assert.Error(t, err)
}

func TestListener_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := New(WithPort(0), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, l.Start(ctx))
	addr := l.Addr()

	cancel()

	client := &http.Client{Timeout: time.Second}
	assert.Eventually(t, func() bool {
		resp, err := client.Get("http://" + addr + "/health")
		if err == nil {
			resp.Body.Close()
		}
		return err != nil
	}, 3*time.Second, 20*time.Millisecond)
}

func TestListener_AccessLogOmitsCode(t *testing.T) {
	var logs syncBuffer
	l := startListener(t, WithLogger(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))))

	status, _, _ := get(t, l, "/callback?code=very-secret-code")
	require.Equal(t, http.StatusOK, status)

	l.Stop()

	out := logs.String()
	assert.Contains(t, out, "authorization callback")
	assert.NotContains(t, out, "very-secret-code")
}

func TestAuthorizationError_Message(t *testing.T) {
	err := &AuthorizationError{Code: "access_denied", Description: "User denied"}
	assert.Equal(t, "authorization failed: access_denied: User denied", err.Error())

	err = &AuthorizationError{Code: "server_error"}
	assert.Equal(t, "authorization failed: server_error", err.Error())
}
