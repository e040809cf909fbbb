package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	appLog "calbridge/internal/log"
)

const (
	tokenFileMode = 0o600

	callbackPath = "/oauth2callback"
)

// CredentialType distinguishes the two credential file shapes the tool
// accepts.
type CredentialType int

const (
	CredentialTypeUnknown CredentialType = iota
	CredentialTypeOAuthClient
	CredentialTypeServiceAccount
)

func (t CredentialType) String() string {
	switch t {
	case CredentialTypeOAuthClient:
		return "OAuth client"
	case CredentialTypeServiceAccount:
		return "service account"
	default:
		return "unknown"
	}
}

// DetectCredentialType examines the credential JSON structure. Service
// account files carry "type": "service_account"; OAuth client files carry
// an "installed" or "web" section.
func DetectCredentialType(data []byte) (CredentialType, error) {
	var check map[string]any
	if err := json.Unmarshal(data, &check); err != nil {
		return CredentialTypeUnknown, fmt.Errorf("parse credential file: %w", err)
	}

	if typ, ok := check["type"].(string); ok && typ == "service_account" {
		return CredentialTypeServiceAccount, nil
	}
	if _, ok := check["installed"]; ok {
		return CredentialTypeOAuthClient, nil
	}
	if _, ok := check["web"]; ok {
		return CredentialTypeOAuthClient, nil
	}
	return CredentialTypeUnknown, errors.New("unknown credential type")
}

// ErrNoToken reports a missing or unreadable cached token during a
// non-interactive run. The fix is an interactive `calbridge auth`.
var ErrNoToken = errors.New("no cached OAuth token; run `calbridge auth` to authorize")

// NewHTTPClient returns an authenticated HTTP client without any user
// interaction. Service account credentials mint tokens on demand; OAuth
// client credentials require a previously cached token, which is refreshed
// automatically when expired.
func NewHTTPClient(ctx context.Context, credentialsPath, tokenPath string) (*http.Client, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials %s: %w", credentialsPath, err)
	}

	credType, err := DetectCredentialType(data)
	if err != nil {
		return nil, err
	}

	switch credType {
	case CredentialTypeServiceAccount:
		jwtCfg, err := google.JWTConfigFromJSON(data, calendar.CalendarScope)
		if err != nil {
			return nil, fmt.Errorf("parse service account key: %w", err)
		}
		return jwtCfg.Client(ctx), nil

	case CredentialTypeOAuthClient:
		cfg, err := google.ConfigFromJSON(data, calendar.CalendarScope)
		if err != nil {
			return nil, fmt.Errorf("parse OAuth client credentials: %w", err)
		}
		tok, err := LoadToken(tokenPath)
		if err != nil {
			return nil, fmt.Errorf("%w (%v)", ErrNoToken, err)
		}
		return cfg.Client(ctx, tok), nil

	default:
		return nil, errors.New("unsupported credential type")
	}
}

// Authorize runs the interactive browser OAuth flow and caches the
// resulting token. Service account credentials need no authorization and
// are reported as already usable.
func Authorize(ctx context.Context, credentialsPath, tokenPath string) error {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return fmt.Errorf("read credentials %s: %w", credentialsPath, err)
	}

	credType, err := DetectCredentialType(data)
	if err != nil {
		return err
	}
	if credType == CredentialTypeServiceAccount {
		appLog.Info("service account credentials need no interactive authorization")
		return nil
	}

	cfg, err := google.ConfigFromJSON(data, calendar.CalendarScope)
	if err != nil {
		return fmt.Errorf("parse OAuth client credentials: %w", err)
	}

	tok, err := tokenFromWeb(ctx, cfg)
	if err != nil {
		return fmt.Errorf("browser authorization: %w", err)
	}
	if err := SaveToken(tokenPath, tok); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	appLog.Info("authorization complete", "token", tokenPath)
	return nil
}

// LoadToken reads a cached OAuth token.
func LoadToken(tokenPath string) (*oauth2.Token, error) {
	f, err := os.Open(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return tok, nil
}

// SaveToken writes an OAuth token with owner-only permissions.
func SaveToken(tokenPath string, token *oauth2.Token) error {
	f, err := os.OpenFile(tokenPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, tokenFileMode)
	if err != nil {
		return fmt.Errorf("create token file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	return nil
}

// callbackServer is the loopback HTTP endpoint that receives the OAuth
// redirect. It binds an ephemeral port so the flow cannot collide with
// whatever else is listening on the machine.
type callbackServer struct {
	srv    *http.Server
	url    string
	codeCh chan string
	errCh  chan error
}

func startCallbackServer() (*callbackServer, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("bind loopback callback listener: %w", err)
	}

	cs := &callbackServer{
		url:    fmt.Sprintf("http://localhost:%d%s", ln.Addr().(*net.TCPAddr).Port, callbackPath),
		codeCh: make(chan string, 1),
		errCh:  make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			cs.errCh <- errors.New("no authorization code received")
			fmt.Fprint(w, "Error: no authorization code received")
			return
		}
		cs.codeCh <- code
		fmt.Fprint(w, "Authorization successful. You can close this window and return to the terminal.")
	})

	cs.srv = &http.Server{Handler: mux}
	go func() {
		if err := cs.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			cs.errCh <- fmt.Errorf("serve local callback: %w", err)
		}
	}()
	return cs, nil
}

func (cs *callbackServer) shutdown(ctx context.Context) {
	cs.srv.Shutdown(ctx)
}

// tokenFromWeb drives the local-callback browser flow: start a loopback
// server, open the consent page, trade the code for a token.
func tokenFromWeb(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	cs, err := startCallbackServer()
	if err != nil {
		return nil, err
	}
	defer cs.shutdown(ctx)
	cfg.RedirectURL = cs.url

	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	appLog.Info("opening browser for authorization")
	appLog.Info("if the browser does not open, visit the URL manually", "url", authURL)
	if err := openBrowser(authURL); err != nil {
		appLog.Warn("could not open browser automatically", "err", err)
	}

	var code string
	select {
	case code = <-cs.codeCh:
	case err := <-cs.errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
	return cmd.Start()
}
