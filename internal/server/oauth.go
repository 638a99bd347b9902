package server

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/oauth2"
)

// OAuthResult contains the result of an OAuth authorization flow.
type OAuthResult struct {
	Token *oauth2.Token
	err   error
}

func (o *OAuthResult) Error() error {
	return o.err
}

var successPage = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html lang="en">
<meta charset="utf-8">
<title>ytq login</title>
<style>
  main { max-width: 32rem; margin: 20vh auto; font: 16px/1.5 system-ui, sans-serif; color: #333; }
  code { background: #eee; padding: 0 .25rem; }
</style>
<main>
  <h2>ytq: {{.}} is signed in</h2>
  <p>The token was handed back to the terminal. Check it with <code>ytq auth status --project {{.}}</code>.</p>
</main>
</html>
`))

// OAuthHandler handles the authorization code callback for one project login.
type OAuthHandler struct {
	config   *oauth2.Config
	project  string
	path     string
	state    string
	verifier string
	results  chan OAuthResult
	once     sync.Once
	used     atomic.Bool
}

// NewOAuthHandler creates a handler for the callback at path.
//
// state must be unguessable; verifier is the PKCE code verifier sent with the exchange.
func NewOAuthHandler(config *oauth2.Config, project, path, state, verifier string) *OAuthHandler {
	if path == "" {
		path = "/callback"
	}
	return &OAuthHandler{
		config:   config,
		project:  project,
		path:     path,
		state:    state,
		verifier: verifier,
		results:  make(chan OAuthResult, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{h.path}
}

// ServeHTTP validates the state, exchanges the code, and publishes the result.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.used.CompareAndSwap(false, true) {
		http.Error(w, "login already completed", http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	if query.Get("state") != h.state {
		h.fail(w, http.StatusBadRequest, errors.New("state mismatch"))
		return
	}

	code := query.Get("code")
	if code == "" {
		reason := query.Get("error")
		if desc := query.Get("error_description"); desc != "" {
			reason += ": " + desc
		}
		h.fail(w, http.StatusBadRequest, fmt.Errorf("consent refused (%s)", reason))
		return
	}

	token, err := h.config.Exchange(r.Context(), code, oauth2.VerifierOption(h.verifier))
	if err != nil {
		h.fail(w, http.StatusBadGateway, fmt.Errorf("code exchange: %w", err))
		return
	}

	h.Send(OAuthResult{Token: token})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = successPage.Execute(w, h.project)
}

func (h *OAuthHandler) fail(w http.ResponseWriter, status int, err error) {
	h.Send(OAuthResult{err: err})
	http.Error(w, err.Error(), status)
}

// Send publishes result once; later calls are dropped.
func (h *OAuthHandler) Send(result OAuthResult) {
	h.once.Do(func() {
		h.results <- result
		close(h.results)
	})
}

// Result returns the result channel. It receives exactly one result and is then closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.results
}
