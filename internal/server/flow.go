package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/desertthunder/ytq/internal/shared"
)

// DefaultLoginTimeout bounds how long a login waits for the browser callback.
const DefaultLoginTimeout = 2 * time.Minute

// Flow runs one authorization code login on a local callback server.
type Flow struct {
	Config  *oauth2.Config
	Project string
	// Open shows the consent page; when it fails Prompt is called with the URL instead.
	Open    func(authURL string) error
	Prompt  func(authURL string)
	Timeout time.Duration
	Logger  *log.Logger
}

// Run listens on the redirect URI's host, sends the user to the consent page, and returns the exchanged token.
//
// A redirect URI with port 0 is rewritten to the port actually bound.
func (f *Flow) Run(ctx context.Context) (*oauth2.Token, error) {
	if f.Config == nil || f.Config.ClientID == "" {
		return nil, fmt.Errorf("%w: project %s has no client_id", shared.ErrMissingCredentials, f.Project)
	}
	logger := f.Logger
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultLoginTimeout
	}

	redirect, err := url.Parse(f.Config.RedirectURL)
	if err != nil || redirect.Host == "" {
		return nil, fmt.Errorf("%w: redirect uri %q", shared.ErrInvalidConfig, f.Config.RedirectURL)
	}

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", redirect.Host, err)
	}

	config := *f.Config
	if redirect.Port() == "0" {
		redirect.Host = listener.Addr().String()
		config.RedirectURL = redirect.String()
	}

	state := shared.GenerateID()
	verifier := oauth2.GenerateVerifier()
	handler := NewOAuthHandler(&config, f.Project, redirect.Path, state, verifier)

	router := NewBasicRouter()
	router.Use(Logging(logger))
	router.Handler(handler)

	httpServer := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting OAuth callback server", "project", f.Project, "addr", listener.Addr().String())
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error shutting down server", "error", err)
		}
	}()

	authURL := config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)
	if f.Open == nil || f.Open(authURL) != nil {
		if f.Prompt != nil {
			f.Prompt(authURL)
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result OAuthResult
	select {
	case result = <-handler.Result():
	case err := <-serverErrors:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timer.C:
		return nil, fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if result.Error() != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrAuthFailed, result.Error())
	}
	if result.Token == nil {
		return nil, fmt.Errorf("%w: no token received", shared.ErrAuthFailed)
	}

	logger.Info("authorization complete", "project", f.Project)
	return result.Token, nil
}
