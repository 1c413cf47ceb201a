package gemini

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

const appPageWithBothTokens = `<html><script>window.WIZ_global_data = {"SNlM0e":"token-a","thykhd":"token-b"};</script></html>`

func testBootstrapper(t *testing.T, landing, app http.HandlerFunc) *Bootstrapper {
	t.Helper()

	landingSrv := httptest.NewServer(landing)
	t.Cleanup(landingSrv.Close)
	appSrv := httptest.NewServer(app)
	t.Cleanup(appSrv.Close)

	b := NewBootstrapper(zerolog.Nop())
	b.googleURL = landingSrv.URL
	b.initURL = appSrv.URL
	b.rotateURL = "http://127.0.0.1:0" // unreachable; rotation is best-effort
	return b
}

func serveAppPage(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}
}

func TestBootstrap_TokenPriority(t *testing.T) {
	b := testBootstrapper(t,
		func(w http.ResponseWriter, r *http.Request) {},
		serveAppPage(appPageWithBothTokens),
	)

	sess, err := b.Bootstrap(context.Background(), Options{SessionID: "psid"})
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	defer sess.Close()

	// SNlM0e is tried before thykhd; with both present the first wins.
	if sess.AccessToken() != "token-a" {
		t.Errorf("AccessToken() = %q, want token-a", sess.AccessToken())
	}
	if !sess.Running() {
		t.Error("session should be running after bootstrap")
	}
}

func TestBootstrap_SecondTokenKey(t *testing.T) {
	b := testBootstrapper(t,
		func(w http.ResponseWriter, r *http.Request) {},
		serveAppPage(`{"thykhd":"token-b"}`),
	)

	sess, err := b.Bootstrap(context.Background(), Options{SessionID: "psid"})
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	defer sess.Close()

	if sess.AccessToken() != "token-b" {
		t.Errorf("AccessToken() = %q, want token-b", sess.AccessToken())
	}
}

func TestBootstrap_TokenNotFound(t *testing.T) {
	b := testBootstrapper(t,
		func(w http.ResponseWriter, r *http.Request) {},
		serveAppPage(`<html>please sign in</html>`),
	)

	_, err := b.Bootstrap(context.Background(), Options{SessionID: "psid"})
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("Bootstrap() error = %v, want ErrTokenNotFound", err)
	}
}

func TestBootstrap_LandingFailure(t *testing.T) {
	srv := httptest.NewServer(serveAppPage(appPageWithBothTokens))
	defer srv.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close() // connection refused from here on

	b := NewBootstrapper(zerolog.Nop())
	b.googleURL = dead.URL
	b.initURL = srv.URL
	b.rotateURL = dead.URL

	_, err := b.Bootstrap(context.Background(), Options{SessionID: "psid"})
	if !errors.Is(err, ErrBootstrapFailed) {
		t.Fatalf("Bootstrap() error = %v, want ErrBootstrapFailed", err)
	}
}

func TestBootstrap_CookiePrecedence(t *testing.T) {
	var appCookieHeader string
	b := testBootstrapper(t,
		func(w http.ResponseWriter, r *http.Request) {
			// The landing page tries to overwrite a caller-supplied cookie
			// and also hands out a fresh one.
			http.SetCookie(w, &http.Cookie{Name: "NID", Value: "server-value"})
			http.SetCookie(w, &http.Cookie{Name: "AEC", Value: "harvested-value"})
		},
		func(w http.ResponseWriter, r *http.Request) {
			appCookieHeader = r.Header.Get("Cookie")
			w.Write([]byte(appPageWithBothTokens))
		},
	)

	sess, err := b.Bootstrap(context.Background(), Options{
		SessionID: "named-psid",
		Cookies:   map[string]string{"NID": "caller-value"},
	})
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	defer sess.Close()

	cookies := sess.Cookies()
	if cookies["NID"] != "caller-value" {
		t.Errorf("NID = %q, caller-supplied value must win over harvested", cookies["NID"])
	}
	if cookies["AEC"] != "harvested-value" {
		t.Errorf("AEC = %q, harvested cookie should fill missing key", cookies["AEC"])
	}
	if cookies[cookieSessionID] != "named-psid" {
		t.Errorf("%s = %q", cookieSessionID, cookies[cookieSessionID])
	}
	if appCookieHeader == "" {
		t.Error("second bootstrap request carried no cookies")
	}
}

func TestBootstrap_ExplicitMapOverridesNamed(t *testing.T) {
	b := testBootstrapper(t,
		func(w http.ResponseWriter, r *http.Request) {},
		serveAppPage(appPageWithBothTokens),
	)

	sess, err := b.Bootstrap(context.Background(), Options{
		SessionID: "named-psid",
		Cookies:   map[string]string{cookieSessionID: "map-psid"},
	})
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	defer sess.Close()

	if got := sess.Cookies()[cookieSessionID]; got != "map-psid" {
		t.Errorf("%s = %q, explicit map must override named input", cookieSessionID, got)
	}
}

func TestBootstrap_RotationUpdatesTimestampCookie(t *testing.T) {
	rotateSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: cookieSessionTS, Value: "rotated-ts"})
	}))
	defer rotateSrv.Close()

	b := testBootstrapper(t,
		func(w http.ResponseWriter, r *http.Request) {},
		serveAppPage(appPageWithBothTokens),
	)
	b.rotateURL = rotateSrv.URL

	sess, err := b.Bootstrap(context.Background(), Options{
		SessionID: "psid",
		SessionTS: "stale-ts",
	})
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	defer sess.Close()

	if got := sess.Cookies()[cookieSessionTS]; got != "rotated-ts" {
		t.Errorf("%s = %q, want rotated-ts", cookieSessionTS, got)
	}
}

func TestBootstrap_RotationFailureIsNonFatal(t *testing.T) {
	rotateSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer rotateSrv.Close()

	b := testBootstrapper(t,
		func(w http.ResponseWriter, r *http.Request) {},
		serveAppPage(appPageWithBothTokens),
	)
	b.rotateURL = rotateSrv.URL

	sess, err := b.Bootstrap(context.Background(), Options{
		SessionID: "psid",
		SessionTS: "stale-ts",
	})
	if err != nil {
		t.Fatalf("Bootstrap() error = %v, rotation failure must not fail bootstrap", err)
	}
	defer sess.Close()

	if got := sess.Cookies()[cookieSessionTS]; got != "stale-ts" {
		t.Errorf("%s = %q, want un-rotated stale-ts", cookieSessionTS, got)
	}
}

func TestBootstrap_NoRotationWithoutBothCookies(t *testing.T) {
	rotateCalls := 0
	rotateSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rotateCalls++
	}))
	defer rotateSrv.Close()

	b := testBootstrapper(t,
		func(w http.ResponseWriter, r *http.Request) {},
		serveAppPage(appPageWithBothTokens),
	)
	b.rotateURL = rotateSrv.URL

	sess, err := b.Bootstrap(context.Background(), Options{SessionID: "psid"})
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	defer sess.Close()

	if rotateCalls != 0 {
		t.Errorf("rotate endpoint called %d times without a timestamp cookie", rotateCalls)
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	sess := &Session{client: &http.Client{}, running: true}

	sess.Close()
	if sess.Running() {
		t.Error("session still running after Close")
	}
	sess.Close() // second close must be a no-op
	if !sess.closed {
		t.Error("closed flag lost")
	}
}

func TestExtractAccessToken(t *testing.T) {
	tests := []struct {
		name string
		page string
		want string
	}{
		{"primary key", `"SNlM0e":"abc123"`, "abc123"},
		{"secondary key", `"thykhd":"def456"`, "def456"},
		{"primary wins", `"thykhd":"def456","SNlM0e":"abc123"`, "abc123"},
		{"neither", `<html></html>`, ""},
		{"empty value ignored", `"SNlM0e":""`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractAccessToken(tt.page); got != tt.want {
				t.Errorf("extractAccessToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCookieHeader_Deterministic(t *testing.T) {
	m := map[string]string{"b": "2", "a": "1", "c": "3"}
	want := "a=1; b=2; c=3"
	for i := 0; i < 5; i++ {
		if got := cookieHeader(m); got != want {
			t.Fatalf("cookieHeader() = %q, want %q", got, want)
		}
	}
}

func TestOptionsDefaults(t *testing.T) {
	opts := (&Options{}).withDefaults()
	if opts.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", opts.Timeout, DefaultTimeout)
	}
	if opts.RefreshInterval != DefaultRefreshInterval {
		t.Errorf("RefreshInterval = %v, want %v", opts.RefreshInterval, DefaultRefreshInterval)
	}
}
