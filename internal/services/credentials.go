package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"

	"github.com/desertthunder/ytq/internal/models"
	"github.com/desertthunder/ytq/internal/shared"
)

// ScopeYouTube grants read and write access to the account's playlists.
const ScopeYouTube = "https://www.googleapis.com/auth/youtube"

// GoogleEndpoint is the Google OAuth2 endpoint.
var GoogleEndpoint = oauth2.Endpoint{
	AuthURL:   "https://accounts.google.com/o/oauth2/auth",
	TokenURL:  "https://oauth2.googleapis.com/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// OAuthConfig builds the authorization code flow configuration for a project.
func OAuthConfig(project models.Project, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     project.ClientID,
		ClientSecret: project.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{ScopeYouTube},
		Endpoint:     GoogleEndpoint,
	}
}

// LoadToken reads a token stored as JSON.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(shared.ExpandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no token at %s", shared.ErrMissingCredentials, path)
		}
		return nil, fmt.Errorf("failed to read token: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token %s: %w", path, err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token at %s has no access or refresh token", shared.ErrMissingCredentials, path)
	}

	return &token, nil
}

// SaveToken writes token as JSON with owner-only permissions, creating parent directories.
func SaveToken(path string, token *oauth2.Token) error {
	if token == nil {
		return fmt.Errorf("%w: nil token", shared.ErrInvalidArgument)
	}

	path = shared.ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write token: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace token: %w", err)
	}

	return nil
}

// persistingSource saves refreshed tokens back to disk.
type persistingSource struct {
	base  oauth2.TokenSource
	path  string
	token *oauth2.Token
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if s.token == nil || token.AccessToken != s.token.AccessToken {
		if err := SaveToken(s.path, token); err != nil {
			return nil, err
		}
		s.token = token
	}
	return token, nil
}

// HTTPClient returns an http client authorized as project, refreshing and persisting its token as needed.
func HTTPClient(ctx context.Context, project models.Project, redirectURI string) (*http.Client, error) {
	token, err := LoadToken(project.TokenPath)
	if err != nil {
		return nil, err
	}

	conf := OAuthConfig(project, redirectURI)
	source := oauth2.ReuseTokenSource(token, &persistingSource{
		base:  conf.TokenSource(ctx, token),
		path:  project.TokenPath,
		token: token,
	})

	return oauth2.NewClient(ctx, source), nil
}
