package callback

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const (
	serviceName = "envato-oauth-server"

	missingParamsCode    = "invalid_request"
	missingParamsMessage = "Missing authorization code or error parameter"
)

func (l *Listener) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", l.handleCallback)
	mux.HandleFunc("GET /app/envato/callback", l.handleCallback)
	mux.HandleFunc("GET /status", l.handleStatus)
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /{$}", handleRoot)

	return applyMiddlewares(mux,
		HideQuery,
		Logging(l.logger),
		Recovery,
	)
}

func (l *Listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := queryOf(r)

	var (
		res     Result
		missing bool
	)
	switch {
	case query.Get("code") != "":
		res.Code = query.Get("code")
	case query.Has("error"):
		res.Error = query.Get("error")
		if res.Error == "" {
			res.Error = "Unknown error"
		}
		res.ErrorDescription = query.Get("error_description")
	default:
		res.Error = missingParamsCode
		res.ErrorDescription = missingParamsMessage
		missing = true
	}

	res, missing, first := l.complete(res, missing)

	outcome := "code"
	if missing {
		outcome = "missing_parameters"
	} else if res.IsError() {
		outcome = "provider_error"
	}
	// the code itself is never logged
	l.logger.InfoContext(r.Context(), "authorization callback",
		"attempt", l.attempt,
		"outcome", outcome,
		"error", res.Error,
		"first", first,
	)

	if missing {
		writeJSON(r.Context(), w, map[string]string{"detail": missingParamsMessage}, http.StatusBadRequest)
		return
	}

	if res.IsError() {
		description := res.ErrorDescription
		if description == "" {
			description = "No description provided"
		}
		renderPage(w, "failure.html", http.StatusBadRequest, map[string]string{
			"Error":       res.Error,
			"Description": description,
		})
		return
	}

	renderPage(w, "success.html", http.StatusOK, nil)
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Server         string `json:"server"`
	OAuthCompleted bool   `json:"oauth_completed"`
	HasCode        bool   `json:"has_code"`
	HasError       bool   `json:"has_error"`
	AttemptID      string `json:"attempt_id"`
}

func (l *Listener) handleStatus(w http.ResponseWriter, r *http.Request) {
	res := l.Result()
	writeJSON(r.Context(), w, StatusResponse{
		Server:         "running",
		OAuthCompleted: res.Completed,
		HasCode:        res.Code != "",
		HasError:       res.Error != "",
		AttemptID:      l.attempt,
	}, http.StatusOK)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, map[string]string{
		"status":  "healthy",
		"service": serviceName,
	}, http.StatusOK)
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, map[string]string{
		"message": "Envato OAuth Server is running. Waiting for callback...",
	}, http.StatusOK)
}

// renderPage executes an HTML template with the browser security headers.
func renderPage(w http.ResponseWriter, name string, status int, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Cache-Control", "no-store")
	h.Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
