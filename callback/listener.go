// Package callback runs the short-lived loopback HTTP server that captures the
// browser redirect at the end of the authorization step.
//
// One Listener serves one login attempt. The first callback request decides
// the outcome; later requests see the same result.
package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPort is the port registered as the redirect URI with the provider.
const DefaultPort = 56654

const shutdownTimeout = 5 * time.Second

// Result is the outcome of the authorization callback.
type Result struct {
	Code             string
	Error            string
	ErrorDescription string
	// Completed flips to true once, on the first callback request.
	Completed bool
}

// IsError reports whether the callback carried no authorization code.
func (r Result) IsError() bool {
	return r.Completed && r.Code == ""
}

// Option configures a Listener.
type Option func(*Listener)

// WithPort sets the loopback port. Zero lets the OS pick one.
func WithPort(port int) Option {
	return func(l *Listener) {
		l.port = port
	}
}

// WithLogger sets the logger used for lifecycle and access logs.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) {
		l.logger = logger
	}
}

// Listener receives the provider redirect on 127.0.0.1.
type Listener struct {
	port    int
	logger  *slog.Logger
	attempt string

	mu      sync.Mutex
	result  Result
	missing bool
	done    chan struct{}

	server   *http.Server
	listener net.Listener
	errCh    chan error
	stopped  chan struct{}
	stopOnce sync.Once
}

// New creates a Listener. Call Start to begin accepting callbacks.
func New(opts ...Option) *Listener {
	l := &Listener{
		port:    DefaultPort,
		logger:  slog.Default(),
		attempt: uuid.NewString(),
		done:    make(chan struct{}),
		errCh:   make(chan error, 1),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AttemptID identifies this login attempt in logs and on /status.
func (l *Listener) AttemptID() string {
	return l.attempt
}

// Start binds the loopback address and serves in the background. Binding
// happens synchronously, so a port already in use is reported here. The
// server stops when ctx is cancelled or Stop is called.
func (l *Listener) Start(ctx context.Context) error {
	if l.listener != nil {
		return errors.New("callback listener already started")
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(l.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}
	l.listener = ln
	l.port = ln.Addr().(*net.TCPAddr).Port

	l.server = &http.Server{
		Handler:           l.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		err := l.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("callback server failed", "attempt", l.attempt, "error", err)
			l.errCh <- err
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.stopped:
		}
	}()

	l.logger.Info("callback server listening",
		"attempt", l.attempt,
		"address", ln.Addr().String(),
	)
	return nil
}

// Addr returns the bound address, or "" before Start.
func (l *Listener) Addr() string {
	if l.listener == nil {
		return ""
	}
	return l.listener.Addr().String()
}

// RedirectURL returns the callback URL served by this listener.
func (l *Listener) RedirectURL() string {
	return fmt.Sprintf("http://localhost:%d/callback", l.port)
}

// Await blocks until the first callback arrives, the timeout elapses, or ctx
// is cancelled. A non-positive timeout waits on ctx alone. It returns the
// authorization code, ErrTimeout, or an *AuthorizationError.
func (l *Listener) Await(ctx context.Context, timeout time.Duration) (string, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-l.done:
	case <-expired:
		l.logger.Warn("no authorization callback received",
			"attempt", l.attempt,
			"timeout", timeout,
		)
		return "", ErrTimeout
	case err := <-l.errCh:
		return "", fmt.Errorf("callback server stopped: %w", err)
	case <-ctx.Done():
		return "", ctx.Err()
	}

	res := l.Result()
	if res.Code == "" {
		return "", &AuthorizationError{Code: res.Error, Description: res.ErrorDescription}
	}
	return res.Code, nil
}

// Result returns a snapshot of the callback outcome.
func (l *Listener) Result() Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.result
}

// Stop shuts the server down, waiting up to five seconds for in-flight
// responses. Safe to call more than once.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopped)
		if l.server == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := l.server.Shutdown(ctx); err != nil {
			_ = l.server.Close()
			l.logger.Warn("callback server shutdown was not graceful",
				"attempt", l.attempt,
				"error", err,
			)
			return
		}
		l.logger.Debug("callback server stopped", "attempt", l.attempt)
	})
}

// complete records the outcome of the first callback. Later calls return the
// stored outcome and false.
func (l *Listener) complete(res Result, missing bool) (Result, bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.result.Completed {
		return l.result, l.missing, false
	}

	res.Completed = true
	l.result = res
	l.missing = missing
	close(l.done)
	return l.result, l.missing, true
}
