package pan

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/cpan115/pan115-go/internal/credstore"
)

// DefaultAuthBase is the OAuth service root. Separate host from the file
// API base.
const DefaultAuthBase = "https://passportapi.115.com"

// OAuth endpoint paths under the auth base.
const (
	authorizePath = "/open/authorize"
	exchangePath  = "/open/authCodeToToken"
	refreshPath   = "/open/refreshToken"
)

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// callbackPath is the HTTP path the OAuth2 redirect hits on the local server.
const callbackPath = "/"

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// AuthConfig carries the OAuth client settings. BaseURL defaults to
// DefaultAuthBase, HTTPClient to http.DefaultClient.
type AuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	BaseURL      string
	HTTPClient   *http.Client
}

func (a AuthConfig) baseURL() string {
	if a.BaseURL != "" {
		return a.BaseURL
	}

	return DefaultAuthBase
}

func (a AuthConfig) httpClient() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}

	return http.DefaultClient
}

// tokenPayload is the data object both token endpoints return. The service
// wraps token responses in its usual envelope instead of the bare OAuth2
// JSON shape, so the standard exchange machinery cannot decode them.
type tokenPayload struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresIn    flexString `json:"expires_in"`
}

func (p *tokenPayload) toToken() (*oauth2.Token, error) {
	if p.AccessToken == "" || p.RefreshToken == "" {
		return nil, fmt.Errorf("pan: token response missing fields: %w", ErrEmptyPayload)
	}

	tok := &oauth2.Token{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
	}

	var expiresIn int64

	fmt.Sscanf(string(p.ExpiresIn), "%d", &expiresIn) //nolint:errcheck // zero means no expiry known

	if expiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	}

	return tok, nil
}

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// Login performs the authorization code + PKCE flow:
//  1. Binds a localhost HTTP server on a random port
//  2. Opens the browser to the service's authorization endpoint
//  3. Receives the callback with the authorization code
//  4. Exchanges the code for tokens using PKCE
//  5. Saves the credentials to disk at credPath
//  6. Returns a TokenSource for use with Client
//
// openURL is called with the authorization URL; the CLI uses it to launch
// the default browser. If openURL returns an error, the URL is printed to
// stderr so the user can open it manually.
//
// The caller is responsible for computing credPath (via config.CredentialPath).
// This keeps pan/ free of a config import.
func Login(
	ctx context.Context,
	auth AuthConfig,
	credPath string,
	openURL func(string) error,
	logger *slog.Logger,
) (TokenSource, error) {
	logger.Info("starting browser auth flow (authorization code + PKCE)",
		slog.String("path", credPath),
	)

	// Start the localhost callback server.
	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, resultCh, logger)
	if err != nil {
		return nil, err
	}

	defer shutdownCallbackServer(srv, logger)

	redirectURI := auth.RedirectURI
	if redirectURI == "" {
		redirectURI = fmt.Sprintf("http://localhost:%d", port)
	}

	// Generate PKCE verifier and random state, build auth URL. The oauth2
	// Config is used only for URL construction — the exchange itself is
	// envelope-shaped and handled below.
	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("pan: generating state token: %w", err)
	}

	registerCallbackHandler(mux, state, resultCh)

	urlCfg := &oauth2.Config{
		ClientID:    auth.ClientID,
		RedirectURL: redirectURI,
		Endpoint:    oauth2.Endpoint{AuthURL: auth.baseURL() + authorizePath},
	}
	authURL := urlCfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	launchBrowser(authURL, openURL, logger)

	code, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return nil, err
	}

	logger.Info("received authorization code, exchanging for token")

	tok, err := exchangeCode(ctx, auth, code, verifier, redirectURI)
	if err != nil {
		return nil, err
	}

	logger.Info("token exchange successful", slog.Time("expiry", tok.Expiry))

	cf := &credstore.File{ClientID: auth.ClientID, Token: tok}
	if saveErr := credstore.Save(credPath, cf); saveErr != nil {
		return nil, fmt.Errorf("pan: saving credentials: %w", saveErr)
	}

	logger.Info("login successful",
		slog.String("path", credPath),
		slog.Time("expiry", tok.Expiry),
	)

	return newSavingSource(auth, credPath, tok, nil, logger), nil
}

// TokenSourceFromFile loads saved credentials and returns a TokenSource
// with auto-refresh and auto-persistence. Returns ErrNotLoggedIn if no
// credential file exists at the path.
func TokenSourceFromFile(auth AuthConfig, credPath string, logger *slog.Logger) (TokenSource, error) {
	cf, err := credstore.Load(credPath)
	if err != nil {
		return nil, err
	}

	if cf == nil {
		return nil, ErrNotLoggedIn
	}

	expired := !cf.Token.Expiry.IsZero() && cf.Token.Expiry.Before(time.Now())
	logger.Info("loaded saved credentials",
		slog.String("path", credPath),
		slog.Time("expiry", cf.Token.Expiry),
		slog.Bool("expired", expired),
	)

	return newSavingSource(auth, credPath, cf.Token, cf.Meta, logger), nil
}

// Logout removes the saved credential file.
// Returns nil if the file does not exist (already logged out).
func Logout(credPath string, logger *slog.Logger) error {
	if err := credstore.Delete(credPath); err != nil {
		return err
	}

	logger.Info("logout: removed credential file", slog.String("path", credPath))

	return nil
}

// exchangeCode swaps an authorization code for tokens.
func exchangeCode(ctx context.Context, auth AuthConfig, code, verifier, redirectURI string) (*oauth2.Token, error) {
	params := url.Values{
		"client_id":     {auth.ClientID},
		"code":          {code},
		"code_verifier": {verifier},
		"redirect_uri":  {redirectURI},
		"grant_type":    {"authorization_code"},
	}

	if auth.ClientSecret != "" {
		params.Set("client_secret", auth.ClientSecret)
	}

	payload, err := postTokenEndpoint(ctx, auth.httpClient(), auth.baseURL()+exchangePath, params)
	if err != nil {
		return nil, fmt.Errorf("pan: token exchange failed: %w", err)
	}

	return payload.toToken()
}

// postTokenEndpoint posts form params to an OAuth endpoint and unwraps the
// envelope around the token payload.
func postTokenEndpoint(ctx context.Context, client *http.Client, endpoint string, params url.Values) (*tokenPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if sentinel := classifyStatus(resp.StatusCode); sentinel != nil {
		return nil, &APIError{Code: resp.StatusCode, Message: "token endpoint rejected request", Err: sentinel}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}

	if !env.State {
		return nil, &APIError{Code: env.Code, Message: env.Message, Err: classifyCode(env.Code)}
	}

	var payload tokenPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("decoding token payload: %w", err)
	}

	return &payload, nil
}

// refreshSource refreshes tokens via the service's refresh endpoint. It
// satisfies oauth2.TokenSource so oauth2.ReuseTokenSource can wrap it,
// which provides caching and serializes concurrent refresh attempts behind
// a single in-flight call.
type refreshSource struct {
	auth   AuthConfig
	logger *slog.Logger

	mu           sync.Mutex
	refreshToken string
}

func (r *refreshSource) Token() (*oauth2.Token, error) {
	r.mu.Lock()
	current := r.refreshToken
	r.mu.Unlock()

	if current == "" {
		return nil, ErrNotLoggedIn
	}

	r.logger.Info("refreshing access token")

	payload, err := postTokenEndpoint(context.Background(), r.auth.httpClient(),
		r.auth.baseURL()+refreshPath, url.Values{"refresh_token": {current}})
	if err != nil {
		// An invalid or revoked refresh token means the session is over.
		if errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrBadRequest) {
			return nil, fmt.Errorf("pan: refresh token rejected: %w", ErrAuthExpired)
		}

		return nil, fmt.Errorf("pan: refreshing token: %w", err)
	}

	tok, err := payload.toToken()
	if err != nil {
		return nil, err
	}

	// The service rotates refresh tokens; remember the latest one.
	r.mu.Lock()
	r.refreshToken = tok.RefreshToken
	r.mu.Unlock()

	r.logger.Info("access token refreshed", slog.Time("expiry", tok.Expiry))

	return tok, nil
}

// savingSource adapts oauth2.TokenSource to pan.TokenSource and persists
// the credential file whenever the access token changes, so a refreshed
// token survives process restarts.
type savingSource struct {
	src      oauth2.TokenSource
	credPath string
	clientID string
	meta     map[string]string
	logger   *slog.Logger

	mu         sync.Mutex
	lastAccess string
}

func newSavingSource(
	auth AuthConfig,
	credPath string,
	tok *oauth2.Token,
	meta map[string]string,
	logger *slog.Logger,
) *savingSource {
	refresher := &refreshSource{auth: auth, logger: logger, refreshToken: tok.RefreshToken}

	return &savingSource{
		src:        oauth2.ReuseTokenSource(tok, refresher),
		credPath:   credPath,
		clientID:   auth.ClientID,
		meta:       meta,
		logger:     logger,
		lastAccess: tok.AccessToken,
	}
}

func (s *savingSource) Token() (string, error) {
	t, err := s.src.Token()
	if err != nil {
		s.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("pan: obtaining token: %w", err)
	}

	s.persistIfChanged(t)

	return t.AccessToken, nil
}

// persistIfChanged saves the credential file when a refresh produced a new
// access token. Persistence failures are logged, not fatal — the in-memory
// token is still valid for this process.
func (s *savingSource) persistIfChanged(t *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.AccessToken == s.lastAccess {
		return
	}

	s.lastAccess = t.AccessToken

	cf := &credstore.File{ClientID: s.clientID, Token: t, Meta: s.meta}
	if err := credstore.Save(s.credPath, cf); err != nil {
		s.logger.Warn("failed to persist refreshed token",
			slog.String("path", s.credPath),
			slog.String("error", err.Error()),
		)

		return
	}

	s.logger.Info("persisted refreshed token", slog.String("path", s.credPath))
}

// startCallbackServer binds to 127.0.0.1:0 and starts an HTTP server with
// the given mux. Returns the server, the port, and any error.
func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("pan: binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, fmt.Errorf("pan: listener address is not TCP")
	}

	port := tcpAddr.Port
	logger.Info("callback server listening", slog.Int("port", port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			resultCh <- callbackResult{err: fmt.Errorf("pan: callback server error: %w", serveErr)}
		}
	}()

	return srv, port, nil
}

// registerCallbackHandler adds the callback route to the mux.
// Must be called before the browser redirects back.
func registerCallbackHandler(mux *http.ServeMux, state string, resultCh chan<- callbackResult) {
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})
}

// handleOAuthCallback validates the state, extracts the code, and sends the result.
func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	// Validate state to prevent CSRF.
	if r.URL.Query().Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("pan: OAuth2 state mismatch (possible CSRF)")}

		return
	}

	// Check for error from the authorization server.
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		desc := r.URL.Query().Get("error_description")
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("pan: authorization failed: %s: %s", errParam, desc)}

		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("pan: callback missing authorization code")}

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	resultCh <- callbackResult{code: code}
}

// shutdownCallbackServer gracefully shuts down the callback HTTP server.
func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Best-effort shutdown — log but don't propagate since we're in a defer.
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// launchBrowser attempts to open the auth URL. If it fails, prints the URL
// to stderr as a fallback so the user can copy-paste it.
func launchBrowser(authURL string, openURL func(string) error, logger *slog.Logger) {
	logger.Info("opening browser for authorization")

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL",
			slog.String("error", openErr.Error()),
		)

		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}
}

// waitForCallback blocks until the callback fires or the context is canceled.
func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("pan: browser auth canceled: %w", ctx.Err())
	}
}

// generateState produces a cryptographically random hex string for the
// OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
