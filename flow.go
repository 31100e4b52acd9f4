package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/novusedge/envato-oauth/auth"
	"github.com/novusedge/envato-oauth/callback"
	"github.com/novusedge/envato-oauth/tui"
)

// errBrowserDisabled is reported when --no-browser is set.
var errBrowserDisabled = errors.New("browser launch disabled")

// loginOptions controls one browser login.
type loginOptions struct {
	Port      int
	Timeout   time.Duration
	NoBrowser bool
}

// authenticateWithBrowser runs the authorization code flow: start the
// callback listener, send the user to the authorize URL, wait for the
// redirect and exchange the code. The listener is stopped on every path.
func authenticateWithBrowser(
	ctx context.Context,
	m *auth.Manager,
	opts loginOptions,
	d tui.Displayer,
) (*auth.Record, error) {
	logger := slog.Default()

	l := callback.New(callback.WithPort(opts.Port), callback.WithLogger(logger))
	if err := l.Start(ctx); err != nil {
		return nil, err
	}
	defer l.Stop()

	d.ServerStarted(l.RedirectURL())
	warnOnRedirectMismatch(logger, m.RedirectURI(), opts.Port)

	authURL := m.AuthorizationURL()
	if opts.NoBrowser {
		d.BrowserFailed(authURL, errBrowserDisabled)
	} else {
		d.OpeningBrowser(authURL)
		if err := openBrowser(authURL); err != nil {
			logger.WarnContext(ctx, "failed to open browser", "error", err)
			d.BrowserFailed(authURL, err)
		}
	}

	d.WaitingForCallback(time.Now().Add(opts.Timeout))
	code, err := l.Await(ctx, opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("no authorization code received: %w", err)
	}
	d.CallbackReceived()

	d.Exchanging()
	rec, err := m.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	d.TokenSaved(m.TokenFile())

	d.Done(auth.Preview(rec.AccessToken, 20), time.Duration(rec.ExpiresIn)*time.Second)
	return rec, nil
}

// warnOnRedirectMismatch logs when the registered redirect URI points at a
// different local port than the listener, since the provider would then
// redirect the browser somewhere nothing is listening.
func warnOnRedirectMismatch(logger *slog.Logger, redirectURI string, port int) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1":
	default:
		return
	}
	if p := u.Port(); p != "" && p != strconv.Itoa(port) {
		logger.Warn("redirect URI port differs from callback listener port",
			"redirect_uri", redirectURI,
			"port", port,
		)
	}
}
