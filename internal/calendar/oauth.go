package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"

	"untiscal/internal/errs"
	appLog "untiscal/internal/log"
)

// OutOfBandRedirect is used when the client secrets do not name a redirect
// URL; the user pastes the code shown by Google.
const OutOfBandRedirect = "urn:ietf:wg:oauth:2.0:oob"

// OAuthConfig loads the installed-app client secrets for calendar access.
func OAuthConfig(credentialsPath string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeRemoteAuth, "read client credentials")
	}
	cfg, err := google.ConfigFromJSON(data, gcal.CalendarScope)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeRemoteAuth, "parse client credentials")
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = OutOfBandRedirect
	}
	return cfg, nil
}

// LoadToken reads a token saved by SaveToken.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.Wrap(err, errs.CodeRemoteAuth, "no token; run `untiscal auth` first")
		}
		return nil, errs.Wrap(err, errs.CodeRemoteAuth, "read token")
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, errs.Wrap(err, errs.CodeRemoteAuth, "decode token")
	}
	return &tok, nil
}

// SaveToken writes tok with 0600 permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	if tok == nil {
		return errors.New("token is nil")
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// OAuthClient returns an HTTP client whose token refreshes are written back
// to tokenPath. The token is checked once up front so that an unusable
// token fails before any remote call is made.
func OAuthClient(ctx context.Context, cfg *oauth2.Config, tokenPath string) (*http.Client, error) {
	tok, err := LoadToken(tokenPath)
	if err != nil {
		return nil, err
	}

	src := &persistingSource{
		base: cfg.TokenSource(ctx, tok),
		path: tokenPath,
		last: tok.AccessToken,
	}
	if _, err := src.Token(); err != nil {
		return nil, errs.Wrap(err, errs.CodeRemoteAuth, "refresh token")
	}
	return oauth2.NewClient(ctx, src), nil
}

// ExchangeCode trades an authorization code for a token and saves it.
func ExchangeCode(ctx context.Context, cfg *oauth2.Config, code, tokenPath string) error {
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return errs.Wrap(err, errs.CodeRemoteAuth, "exchange authorization code")
	}
	if err := SaveToken(tokenPath, tok); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// persistingSource saves the token whenever the access token changes.
type persistingSource struct {
	mu   sync.Mutex
	base oauth2.TokenSource
	path string
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		if err := SaveToken(p.path, tok); err != nil {
			appLog.Error("persist refreshed token failed", err, "path", p.path)
		} else {
			appLog.Debug("refreshed token persisted", "path", p.path, "expiry", tok.Expiry)
		}
		p.last = tok.AccessToken
	}
	return tok, nil
}
