// Package sinkauth provides the default sink.CredentialProvider: a
// Gmail OAuth2 desktop-app (installed-app/loopback) flow, adapted from
// the teacher's browser-based OAuth manager and grounded in the
// original migration tool's client-secret validation and scopes.
package sinkauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/mailkeep/imap2gmail/internal/sink"
)

// Scopes requests read/write access (gmail.modify) plus gmail.insert,
// the permission the import/insert endpoints need to backdate messages
// without marking them unread or notifying the user.
var Scopes = []string{
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/gmail.insert",
}

// ClientSecretShapeError indicates the configured OAuth client JSON is
// a "Web application" client rather than a "Desktop app" client; the
// loopback flow this package implements only works with the latter.
type ClientSecretShapeError struct {
	Path string
}

func (e *ClientSecretShapeError) Error() string {
	return fmt.Sprintf(
		"%s looks like a Web application OAuth client; create a Desktop app client in Google Cloud Console and point the credentials file at its JSON instead",
		e.Path,
	)
}

// Config describes where to find the OAuth client secrets and where to
// persist the acquired token.
type Config struct {
	ClientSecretsFile string
	TokenFile         string
	Logger            *slog.Logger
}

// Provider is the default sink.CredentialProvider, backed by a
// long-lived refresh token persisted at cfg.TokenFile.
type Provider struct {
	cfg       Config
	oauthConf *oauth2.Config
	logger    *slog.Logger
}

// NewProvider validates the client secrets file and returns a Provider.
// It does not perform the OAuth flow; call EnsureAuthorized (directly,
// or implicitly via Token) to do that.
func NewProvider(cfg Config) (*Provider, error) {
	if err := validateClientSecretShape(cfg.ClientSecretsFile); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(cfg.ClientSecretsFile)
	if err != nil {
		return nil, fmt.Errorf("sinkauth: read client secrets: %w", err)
	}
	oauthConf, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("sinkauth: parse client secrets: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{cfg: cfg, oauthConf: oauthConf, logger: logger}, nil
}

// validateClientSecretShape rejects a "Web application" OAuth client,
// the original tool's one concrete, checkable misconfiguration:
// malformed JSON is left for google.ConfigFromJSON to reject.
func validateClientSecretShape(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("sinkauth: read client secrets: %w", err)
	}
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil
	}
	_, hasInstalled := shape["installed"]
	_, hasWeb := shape["web"]
	if !hasInstalled && hasWeb {
		return &ClientSecretShapeError{Path: path}
	}
	return nil
}

// EnsureAuthorized loads a persisted token, refreshing it if expired,
// or runs the interactive loopback OAuth flow if no valid token exists.
func (p *Provider) EnsureAuthorized(ctx context.Context) error {
	_, err := p.tokenSource(ctx)
	return err
}

// Token implements sink.CredentialProvider.
func (p *Provider) Token(ctx context.Context) (string, error) {
	ts, err := p.tokenSource(ctx)
	if err != nil {
		return "", err
	}
	tok, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("sinkauth: refresh token: %w", err)
	}
	return tok.AccessToken, nil
}

// Identity implements sink.CredentialProvider, returning the
// authenticated account's email via Google's userinfo endpoint.
func (p *Provider) Identity(ctx context.Context) (string, error) {
	token, err := p.Token(ctx)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://www.googleapis.com/oauth2/v2/userinfo", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sinkauth: userinfo request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sinkauth: userinfo returned %d: %s", resp.StatusCode, body)
	}

	var parsed struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("sinkauth: parse userinfo: %w", err)
	}
	return parsed.Email, nil
}

func (p *Provider) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	token, err := p.loadToken()
	if err != nil {
		token, err = p.runLoopbackFlow(ctx)
		if err != nil {
			return nil, err
		}
		if err := p.saveToken(token); err != nil {
			p.logger.Warn("sinkauth: failed to persist token", "error", err)
		}
	}

	ts := p.oauthConf.TokenSource(ctx, token)
	refreshed, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("sinkauth: refresh token: %w", err)
	}
	if refreshed.AccessToken != token.AccessToken {
		if err := p.saveToken(refreshed); err != nil {
			p.logger.Warn("sinkauth: failed to persist refreshed token", "error", err)
		}
	}
	return oauth2.StaticTokenSource(refreshed), nil
}

// runLoopbackFlow opens the system browser against Google's consent
// screen and receives the authorization code on a local HTTP server
// bound to an OS-assigned port (matching flow.run_local_server(port=0)
// in the original tool).
func (p *Provider) runLoopbackFlow(ctx context.Context) (*oauth2.Token, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("sinkauth: bind loopback listener: %w", err)
	}

	stateBytes := make([]byte, 16)
	if _, err := rand.Read(stateBytes); err != nil {
		return nil, fmt.Errorf("sinkauth: generate state: %w", err)
	}
	state := base64.URLEncoding.EncodeToString(stateBytes)

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			errChan <- fmt.Errorf("sinkauth: state mismatch in OAuth callback")
			fmt.Fprint(w, "Authorization failed: state mismatch.")
			return
		}
		if errMsg := r.URL.Query().Get("error"); errMsg != "" {
			errChan <- fmt.Errorf("sinkauth: authorization denied: %s", errMsg)
			fmt.Fprint(w, "Authorization was not granted. You can close this window.")
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			errChan <- fmt.Errorf("sinkauth: no authorization code in callback")
			fmt.Fprint(w, "Authorization failed: no code received.")
			return
		}
		codeChan <- code
		fmt.Fprint(w, "Authorization successful. You can close this window.")
	})
	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	defer server.Shutdown(ctx)

	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/", listener.Addr().(*net.TCPAddr).Port)
	confCopy := *p.oauthConf
	confCopy.RedirectURL = redirectURL
	authURL := confCopy.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	p.logger.Info("opening browser for Gmail authorization", "url", authURL)
	if err := openBrowser(authURL); err != nil {
		p.logger.Warn("could not open browser automatically, visit the URL manually", "error", err)
	}

	select {
	case code := <-codeChan:
		return confCopy.Exchange(ctx, code)
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Provider) loadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(p.cfg.TokenFile)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("sinkauth: token file %s is empty", p.cfg.TokenFile)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (p *Provider) saveToken(token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(p.cfg.TokenFile), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.cfg.TokenFile, data, 0o600)
}

var _ sink.CredentialProvider = (*Provider)(nil)

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}
