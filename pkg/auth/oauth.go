package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/harrisonrobin/taskboard/pkg/config"
	"github.com/harrisonrobin/taskboard/pkg/logging"
)

const (
	// ClientSecretsFile is the downloaded OAuth client, looked up in the
	// config directory when no path is configured.
	ClientSecretsFile = "credentials.json"

	// TokenFile holds the user's access and refresh token.
	TokenFile = "token.json"

	// LocalhostAuthPort receives the OAuth redirect.
	LocalhostAuthPort = "6789"
)

// Scopes requested for spreadsheet access.
var Scopes = []string{sheetsapi.SpreadsheetsScope}

// ErrNoGoogleCredentials is returned when no way to reach the Sheets API is configured.
var ErrNoGoogleCredentials = errors.New("no Google credentials configured: set sheets.credentials_file, sheets.client_secrets or sheets.api_key")

// GetConfig creates an oauth2.Config from the client secrets file.
func GetConfig(secretsPath string, scopes []string) (*oauth2.Config, error) {
	b, err := os.ReadFile(secretsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", secretsPath, err)
	}

	cfg, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	cfg.RedirectURL = fixRedirectURL(cfg.RedirectURL)
	return cfg, nil
}

// fixRedirectURL points localhost and out-of-band redirects at the local
// callback listener.
func fixRedirectURL(raw string) string {
	log := logging.Logger.WithField("component", "auth")
	if raw == "urn:ietf:wg:oauth:2.0:oob" || raw == "" {
		return fmt.Sprintf("http://localhost:%s/oauth2callback", LocalhostAuthPort)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		log.Warnf("could not parse redirect URL %q: %v", raw, err)
		return raw
	}
	if parsed.Hostname() != "localhost" && parsed.Hostname() != "127.0.0.1" {
		log.Warnf("redirect URL %s is not a localhost callback", raw)
		return raw
	}
	if parsed.Port() != LocalhostAuthPort {
		parsed.Host = net.JoinHostPort(parsed.Hostname(), LocalhostAuthPort)
	}
	return parsed.String()
}

// ClientOptions returns the API options for the configured credentials. A
// service account key wins over the installed-app flow, which wins over an
// API key. API keys can only read public spreadsheets.
func ClientOptions(ctx context.Context, cfg config.SheetsConfig) ([]option.ClientOption, error) {
	if cfg.CredentialsFile != "" {
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key %s: %w", cfg.CredentialsFile, err)
		}
		jwtCfg, err := google.JWTConfigFromJSON(b, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}
		return []option.ClientOption{option.WithHTTPClient(jwtCfg.Client(ctx))}, nil
	}

	secrets, err := secretsPath(cfg.ClientSecrets)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(secrets); err == nil {
		client, err := GetClient(ctx, secrets, Scopes)
		if err != nil {
			return nil, err
		}
		return []option.ClientOption{option.WithHTTPClient(client)}, nil
	}

	if cfg.APIKey != "" {
		return []option.ClientOption{option.WithAPIKey(cfg.APIKey)}, nil
	}
	return nil, ErrNoGoogleCredentials
}

func secretsPath(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	dir, err := config.GetXdgHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ClientSecretsFile), nil
}

func tokenPath() (string, error) {
	dir, err := config.GetXdgHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, TokenFile), nil
}

// GetClient retrieves an authenticated *http.Client. It loads the saved
// token or runs the browser authorization flow when there is none.
func GetClient(ctx context.Context, secrets string, scopes []string) (*http.Client, error) {
	cfg, err := GetConfig(secrets, scopes)
	if err != nil {
		return nil, err
	}
	path, err := tokenPath()
	if err != nil {
		return nil, err
	}

	tok, err := tokenFromFile(path)
	if err != nil {
		logging.Logger.Infof("No existing token found at %s. Initiating web authorization flow...", path)
		tok, err = getTokenFromWeb(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to get token from web: %w", err)
		}
		if err := saveToken(path, tok); err != nil {
			return nil, err
		}
	}

	// Persist refreshed tokens as the client renews them.
	src := &savingTokenSource{
		base: cfg.TokenSource(ctx, tok),
		path: path,
		last: tok.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

// Authorize forces the browser flow and stores the new token.
func Authorize(ctx context.Context, secrets string) error {
	path, err := secretsPath(secrets)
	if err != nil {
		return err
	}
	cfg, err := GetConfig(path, Scopes)
	if err != nil {
		return err
	}
	tok, err := getTokenFromWeb(ctx, cfg)
	if err != nil {
		return err
	}
	dst, err := tokenPath()
	if err != nil {
		return err
	}
	return saveToken(dst, tok)
}

type savingTokenSource struct {
	base oauth2.TokenSource
	path string
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := saveToken(s.path, tok); err != nil {
			logging.Logger.Warnf("could not save refreshed token: %v", err)
		}
	}
	return tok, nil
}

// getTokenFromWeb runs the authorization code flow through a local listener.
func getTokenFromWeb(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", LocalhostAuthPort))
	if err != nil {
		return nil, fmt.Errorf("failed to start listener on port %s: %w", LocalhostAuthPort, err)
	}
	defer listener.Close()

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "Authorization code not found", http.StatusBadRequest)
				errCh <- fmt.Errorf("authorization code not found in redirect URL")
				return
			}
			fmt.Fprintf(w, "Authentication successful! You can close this window.")
			codeCh <- code
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	defer server.Shutdown(context.Background())

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Printf("Please open the following URL in your browser to authorize taskboard:\n%s\n", authURL)

	select {
	case code := <-codeCh:
		exchangeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		tok, err := cfg.Exchange(exchangeCtx, code)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve token from Google: %w", err)
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Minute):
		return nil, fmt.Errorf("authorization timed out. Please try again")
	}
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token from file %s: %w", file, err)
	}
	return tok, nil
}

func saveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("could not create token directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache OAuth token to %s: %w", path, err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}
