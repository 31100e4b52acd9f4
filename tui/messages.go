package tui

import (
	"time"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgServerStarted signals that the callback listener is accepting requests.
type MsgServerStarted struct{ RedirectURL string }

// MsgOpeningBrowser signals that the system browser is being launched.
type MsgOpeningBrowser struct{ AuthURL string }

// MsgBrowserFailed signals that the browser could not be launched and the
// user must open the URL manually.
type MsgBrowserFailed struct {
	AuthURL string
	Err     error
}

// MsgWaitingForCallback signals that the flow is waiting for the redirect.
type MsgWaitingForCallback struct{ Deadline time.Time }

// MsgCallbackReceived signals that an authorization code arrived.
type MsgCallbackReceived struct{}

// MsgExchanging signals that the code is being exchanged for tokens.
type MsgExchanging struct{}

// MsgTokenSaved signals that tokens were saved to disk.
type MsgTokenSaved struct{ Path string }

// MsgDone signals successful completion of the OAuth flow.
type MsgDone struct {
	Preview   string
	ExpiresIn time.Duration
}

// MsgFatal signals a fatal error that should terminate the flow.
type MsgFatal struct{ Err error }
