package tui

import (
	"fmt"
	"io"
	"time"

	tea "charm.land/bubbletea/v2"
)

// Displayer abstracts all output from the browser login flow.
type Displayer interface {
	Banner()
	ServerStarted(redirectURL string)
	OpeningBrowser(authURL string)
	BrowserFailed(authURL string, err error)
	WaitingForCallback(deadline time.Time)
	CallbackReceived()
	Exchanging()
	TokenSaved(path string)
	Done(preview string, expiresIn time.Duration)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprintln(p.w, "=== Envato OAuth Authentication ===")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) ServerStarted(redirectURL string) {
	fmt.Fprintf(p.w, "Callback server listening on %s\n", redirectURL)
}

func (p *PlainDisplayer) OpeningBrowser(authURL string) {
	fmt.Fprintf(p.w, "Opening browser to: %s\n", authURL)
}

func (p *PlainDisplayer) BrowserFailed(authURL string, err error) {
	fmt.Fprintf(p.w, "Failed to open browser automatically: %v\n", err)
	fmt.Fprintln(p.w, "----------------------------------------")
	fmt.Fprintf(p.w, "Please manually open this URL in your browser:\n%s\n", authURL)
	fmt.Fprintln(p.w, "----------------------------------------")
}

func (p *PlainDisplayer) WaitingForCallback(deadline time.Time) {
	fmt.Fprintln(p.w, "Waiting for authentication...")
	fmt.Fprintf(p.w, "(Complete the authentication in your browser within %s)\n",
		time.Until(deadline).Round(time.Second))
}

func (p *PlainDisplayer) CallbackReceived() {
	fmt.Fprintln(p.w, "\nAuthorization code received!")
}

func (p *PlainDisplayer) Exchanging() {
	fmt.Fprintln(p.w, "Exchanging code for access token...")
}

func (p *PlainDisplayer) TokenSaved(path string) {
	fmt.Fprintf(p.w, "Tokens saved to %s\n", path)
}

func (p *PlainDisplayer) Done(preview string, expiresIn time.Duration) {
	fmt.Fprintln(p.w, "\n========================================")
	fmt.Fprintln(p.w, "Authentication successful!")
	fmt.Fprintf(p.w, "Access Token: %s\n", preview)
	if expiresIn > 0 {
		fmt.Fprintf(p.w, "Expires In: %s\n", expiresIn.Round(time.Second))
	}
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                         {}
func (NoopDisplayer) ServerStarted(_ string)          {}
func (NoopDisplayer) OpeningBrowser(_ string)         {}
func (NoopDisplayer) BrowserFailed(_ string, _ error) {}
func (NoopDisplayer) WaitingForCallback(_ time.Time)  {}
func (NoopDisplayer) CallbackReceived()               {}
func (NoopDisplayer) Exchanging()                     {}
func (NoopDisplayer) TokenSaved(_ string)             {}
func (NoopDisplayer) Done(_ string, _ time.Duration)  {}
func (NoopDisplayer) Fatal(_ error)                   {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) ServerStarted(redirectURL string) {
	t.p.Send(MsgServerStarted{RedirectURL: redirectURL})
}

func (t *ProgramDisplayer) OpeningBrowser(authURL string) {
	t.p.Send(MsgOpeningBrowser{AuthURL: authURL})
}

func (t *ProgramDisplayer) BrowserFailed(authURL string, err error) {
	t.p.Send(MsgBrowserFailed{AuthURL: authURL, Err: err})
}

func (t *ProgramDisplayer) WaitingForCallback(deadline time.Time) {
	t.p.Send(MsgWaitingForCallback{Deadline: deadline})
}

func (t *ProgramDisplayer) CallbackReceived() {
	t.p.Send(MsgCallbackReceived{})
}

func (t *ProgramDisplayer) Exchanging() {
	t.p.Send(MsgExchanging{})
}

func (t *ProgramDisplayer) TokenSaved(path string) {
	t.p.Send(MsgTokenSaved{Path: path})
}

func (t *ProgramDisplayer) Done(preview string, expiresIn time.Duration) {
	t.p.Send(MsgDone{Preview: preview, ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
