package gemini

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultTimeout         = 120 * time.Second
	DefaultRefreshInterval = 540 * time.Second

	// rotatePayload is the opaque body the RotateCookies endpoint expects.
	rotatePayload = `[000,"-0000000000000000000"]`

	maxBootstrapBody = 10 * 1024 * 1024
)

// Options configures session bootstrap.
type Options struct {
	// Cookies is an explicit cookie map. It overrides SessionID/SessionTS
	// key by key and always wins over cookies harvested during bootstrap.
	Cookies map[string]string

	// SessionID and SessionTS are the legacy single-cookie inputs
	// (__Secure-1PSID and __Secure-1PSIDTS).
	SessionID string
	SessionTS string

	Timeout         time.Duration
	Proxy           string
	AutoRefresh     bool
	RefreshInterval time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.RefreshInterval <= 0 {
		out.RefreshInterval = DefaultRefreshInterval
	}
	return out
}

// Session is one authenticated connection context to the web endpoint. It
// owns the long-lived HTTP client; Close releases it exactly once.
type Session struct {
	client  *http.Client
	cookies map[string]string
	token   string
	opts    Options
	running bool
	closed  bool
}

func (s *Session) AccessToken() string { return s.token }
func (s *Session) Running() bool       { return s.running && !s.closed }
func (s *Session) Timeout() time.Duration {
	return s.opts.Timeout
}

// Proxy returns the proxy URL the session was configured with, empty when
// requests go direct.
func (s *Session) Proxy() string { return s.opts.Proxy }

// Cookies returns a copy of the session cookie map.
func (s *Session) Cookies() map[string]string {
	out := make(map[string]string, len(s.cookies))
	for k, v := range s.cookies {
		out[k] = v
	}
	return out
}

// CookieHeader renders the cookie map as a Cookie header value with
// deterministic key order.
func (s *Session) CookieHeader() string {
	return cookieHeader(s.cookies)
}

// Close tears the session down. Safe to call on every exit path; only the
// first call releases the transport.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.running = false
	if s.client != nil {
		s.client.CloseIdleConnections()
	}
}

// Bootstrapper negotiates cookies and the access token needed before any
// authenticated call can be made. There is no documented login API; this
// mirrors what a browser tab does on first load.
type Bootstrapper struct {
	log zerolog.Logger

	// Endpoint fields exist so tests can point the handshake at local
	// servers; production code never changes them.
	googleURL string
	initURL   string
	rotateURL string
}

func NewBootstrapper(log zerolog.Logger) *Bootstrapper {
	return &Bootstrapper{
		log:       log,
		googleURL: endpointGoogle,
		initURL:   endpointInit,
		rotateURL: endpointRotate,
	}
}

// Bootstrap produces a ready Session or fails with a classified
// initialization error. No retries happen at this layer.
func (b *Bootstrapper) Bootstrap(ctx context.Context, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	cookies := mergeCookieInputs(opts)

	// Rotation is an optimization: some accounts need a fresh
	// __Secure-1PSIDTS, the rest work with the stored one.
	if cookies[cookieSessionID] != "" && cookies[cookieSessionTS] != "" {
		if ts, err := b.rotateSessionTS(ctx, opts, cookies); err != nil {
			b.log.Debug().Err(err).Msg("cookie rotation failed, keeping stored value")
		} else if ts != "" {
			cookies[cookieSessionTS] = ts
		}
	}

	bootstrapClient := newHTTPClient(opts, true)
	defer bootstrapClient.CloseIdleConnections()

	harvested, err := b.fetchLandingCookies(ctx, bootstrapClient)
	if err != nil {
		return nil, fmt.Errorf("%w: %v (the browser session may be stale; log into the web app again)", ErrBootstrapFailed, err)
	}
	// Harvested cookies only fill keys the caller did not supply.
	for k, v := range harvested {
		if _, ok := cookies[k]; !ok {
			cookies[k] = v
		}
	}

	page, err := b.fetchAppPage(ctx, bootstrapClient, cookies)
	if err != nil {
		return nil, fmt.Errorf("%w: %v (the browser session may be stale; log into the web app again)", ErrBootstrapFailed, err)
	}

	token := extractAccessToken(page)
	if token == "" {
		return nil, ErrTokenNotFound
	}

	sess := &Session{
		client:  newHTTPClient(opts, false),
		cookies: cookies,
		token:   token,
		opts:    opts,
		running: true,
	}
	b.log.Debug().Int("cookies", len(cookies)).Msg("session bootstrapped")
	return sess, nil
}

// mergeCookieInputs applies the caller-side precedence: named legacy values
// first, explicit map on top.
func mergeCookieInputs(opts Options) map[string]string {
	cookies := make(map[string]string)
	if opts.SessionID != "" {
		cookies[cookieSessionID] = opts.SessionID
	}
	if opts.SessionTS != "" {
		cookies[cookieSessionTS] = opts.SessionTS
	}
	for k, v := range opts.Cookies {
		if k != "" && v != "" {
			cookies[k] = v
		}
	}
	return cookies
}

func (b *Bootstrapper) rotateSessionTS(ctx context.Context, opts Options, cookies map[string]string) (string, error) {
	client := newHTTPClient(opts, true)
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.rotateURL, strings.NewReader(rotatePayload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Cookie", cookieHeader(cookies))

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBootstrapBody))

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rotate endpoint returned status %d", resp.StatusCode)
	}
	for _, c := range resp.Cookies() {
		if c.Name == cookieSessionTS && c.Value != "" {
			return c.Value, nil
		}
	}
	return "", nil
}

// fetchLandingCookies performs the first unauthenticated GET and returns
// whatever cookies the landing page set, across redirects.
func (b *Bootstrapper) fetchLandingCookies(ctx context.Context, client *http.Client) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.googleURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBootstrapBody))

	harvested := make(map[string]string)
	if client.Jar != nil {
		if u, err := url.Parse(b.googleURL); err == nil {
			for _, c := range client.Jar.Cookies(u) {
				harvested[c.Name] = c.Value
			}
		}
	}
	for _, c := range resp.Cookies() {
		harvested[c.Name] = c.Value
	}
	return harvested, nil
}

func (b *Bootstrapper) fetchAppPage(ctx context.Context, client *http.Client, cookies map[string]string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.initURL, nil)
	if err != nil {
		return "", err
	}
	for k, v := range geminiHeaders() {
		if k == "Host" {
			continue
		}
		req.Header.Set(k, v)
	}
	req.Header.Set("Cookie", cookieHeader(cookies))

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBootstrapBody))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("app page returned status %d", resp.StatusCode)
	}
	return string(body), nil
}

// tokenPatterns are tried in order; the first match wins. The page format
// is outside our control, so the patterns live here and nowhere else.
var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"SNlM0e":"(.*?)"`),
	regexp.MustCompile(`"thykhd":"(.*?)"`),
}

// extractAccessToken scans the app page body for an access token.
func extractAccessToken(page string) string {
	for _, pat := range tokenPatterns {
		if m := pat.FindStringSubmatch(page); m != nil && m[1] != "" {
			return m[1]
		}
	}
	return ""
}

func newHTTPClient(opts Options, withJar bool) *http.Client {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if opts.Proxy != "" {
		if proxyURL, err := url.Parse(opts.Proxy); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	client := &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
	}
	if withJar {
		if jar, err := cookiejar.New(nil); err == nil {
			client.Jar = jar
		}
	}
	return client
}

func cookieHeader(cookies map[string]string) string {
	keys := make([]string, 0, len(cookies))
	for k := range cookies {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+cookies[k])
	}
	return strings.Join(pairs, "; ")
}
