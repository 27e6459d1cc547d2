package auth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/brwnj/gpd/internal/logger"
	"github.com/brwnj/gpd/pkg/errors"
	"github.com/brwnj/gpd/pkg/fsutil"
)

// ArtifactName is the file the session cookies are written to inside the
// output directory.
const ArtifactName = "gpd-cookies"

// LoginOptions control the sign-on exchange.
type LoginOptions struct {
	LoginURL    string       // sign-on endpoint receiving the form post
	CookieName  string       // session marker that must be set and active
	ArtifactDir string       // where the session artifact is written; empty disables it
	Client      *http.Client // optional base client; its Jar is replaced
	UserAgent   string
	Logger      *slog.Logger
}

// Session is an authenticated portal session. It is safe for concurrent
// use by download workers once Login returns.
type Session struct {
	jar          http.CookieJar
	cookies      []recordedCookie
	artifactPath string
	closeOnce    sync.Once
}

type recordedCookie struct {
	url    *url.URL
	cookie *http.Cookie
}

// recordingJar keeps every Set-Cookie it is handed so the full cookie
// attributes can be persisted; http.CookieJar only returns name and value.
type recordingJar struct {
	http.CookieJar
	mu      sync.Mutex
	cookies []recordedCookie
}

func (j *recordingJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	for _, c := range cookies {
		j.cookies = append(j.cookies, recordedCookie{url: u, cookie: c})
	}
	j.mu.Unlock()
	j.CookieJar.SetCookies(u, cookies)
}

// Login posts the credentials to the sign-on endpoint and returns the
// resulting session. It fails with ErrAuthentication when the response does
// not leave the session marker cookie set and active; callers must treat
// that as fatal.
func Login(ctx context.Context, creds Credentials, opts LoginOptions) (*Session, error) {
	log := logger.OrDiscard(opts.Logger)
	if strings.TrimSpace(creds.Username) == "" || creds.Password == "" {
		return nil, errors.ErrMissingCredential
	}
	if opts.LoginURL == "" || opts.CookieName == "" {
		return nil, errors.ErrConfigWithDetails("login", "requires an endpoint and a session cookie name")
	}

	base, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cookie jar")
	}
	jar := &recordingJar{CookieJar: base}

	client := &http.Client{}
	if opts.Client != nil {
		*client = *opts.Client
	}
	client.Jar = jar

	form := url.Values{}
	form.Set("login", creds.Username)
	form.Set("password", creds.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.LoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create login request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if opts.UserAgent != "" {
		req.Header.Set("User-Agent", opts.UserAgent)
	}

	log.Debug("Signing in", "url", opts.LoginURL, "user", creds.Username)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: login request: %w", errors.ErrAuthentication, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	jar.mu.Lock()
	recorded := append([]recordedCookie(nil), jar.cookies...)
	jar.mu.Unlock()

	if !markerActive(recorded, opts.CookieName, time.Now()) {
		return nil, fmt.Errorf("%w: session cookie %q not set (HTTP %d)", errors.ErrAuthentication, opts.CookieName, resp.StatusCode)
	}

	s := &Session{jar: jar, cookies: recorded}
	if opts.ArtifactDir != "" {
		path := filepath.Join(opts.ArtifactDir, ArtifactName)
		if err := writeCookieFile(path, recorded); err != nil {
			return nil, errors.Wrap(err, "failed to write session artifact")
		}
		s.artifactPath = path
	}
	log.Info("Successfully signed in", "user", creds.Username)
	return s, nil
}

// markerActive reports whether the last Set-Cookie for name left it set,
// non-empty and unexpired.
func markerActive(cookies []recordedCookie, name string, now time.Time) bool {
	var last *http.Cookie
	for _, rc := range cookies {
		if rc.cookie.Name == name {
			last = rc.cookie
		}
	}
	if last == nil || last.Value == "" || last.MaxAge < 0 {
		return false
	}
	return last.Expires.IsZero() || last.Expires.After(now)
}

// Apply attaches the session cookies that match the request URL.
func (s *Session) Apply(req *http.Request) error {
	for _, c := range s.jar.Cookies(req.URL) {
		req.AddCookie(c)
	}
	return nil
}

// Type returns SessionAuthType.
func (s *Session) Type() Type { return SessionAuthType }

// ArtifactPath returns the session artifact written at login, or "".
func (s *Session) ArtifactPath() string { return s.artifactPath }

// Close discards the session artifact. Sessions never outlive a run.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_, err = fsutil.RemoveIfExists(s.artifactPath)
	})
	return err
}

// writeCookieFile persists cookies in the Netscape cookie-file format
// understood by curl and wget.
func writeCookieFile(path string, cookies []recordedCookie) error {
	if err := os.MkdirAll(filepath.Dir(path), fsutil.DirModeDefault); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fsutil.FileModePrivate)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	_, _ = w.WriteString("# Netscape HTTP Cookie File\n")
	for _, rc := range cookies {
		_, _ = w.WriteString(cookieLine(rc) + "\n")
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func cookieLine(rc recordedCookie) string {
	c := rc.cookie
	domain, subdomains := rc.url.Hostname(), "FALSE"
	if c.Domain != "" {
		domain, subdomains = "."+strings.TrimPrefix(c.Domain, "."), "TRUE"
	}
	path := c.Path
	if path == "" {
		path = "/"
	}
	secure := "FALSE"
	if c.Secure {
		secure = "TRUE"
	}
	var expires int64
	if !c.Expires.IsZero() {
		expires = c.Expires.Unix()
	}
	return strings.Join([]string{domain, subdomains, path, secure, fmt.Sprint(expires), c.Name, c.Value}, "\t")
}
