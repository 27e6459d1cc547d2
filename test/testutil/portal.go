// Package testutil provides a fake Genome Portal and fixture helpers for
// tests that exercise gpd end to end.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// SessionCookie is the marker cookie the fake portal sets on sign-on.
const SessionCookie = "jgi_session"

// Portal is an httptest stand-in for the sign-on and download hosts.
// Downloads require the session cookie set by a successful sign-on.
type Portal struct {
	Server *httptest.Server
	URL    string

	mu        sync.Mutex
	files     map[string]string
	setMarker bool
	fetches   atomic.Int32
	logins    atomic.Int32
}

// NewPortal starts a portal serving files (URL path to content). The server
// is closed when the test ends.
func NewPortal(t *testing.T, files map[string]string) *Portal {
	t.Helper()
	p := &Portal{files: files, setMarker: true}
	p.Server = httptest.NewServer(http.HandlerFunc(p.serve))
	p.URL = p.Server.URL
	t.Cleanup(p.Server.Close)
	return p
}

// LoginURL returns the sign-on endpoint.
func (p *Portal) LoginURL() string { return p.URL + "/signon/create" }

// RejectLogins makes sign-on succeed at the HTTP level without setting the
// session cookie.
func (p *Portal) RejectLogins() {
	p.mu.Lock()
	p.setMarker = false
	p.mu.Unlock()
}

// Fetches returns the number of download requests received.
func (p *Portal) Fetches() int { return int(p.fetches.Load()) }

// Logins returns the number of sign-on requests received.
func (p *Portal) Logins() int { return int(p.logins.Load()) }

func (p *Portal) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/signon/create" {
		p.logins.Add(1)
		p.mu.Lock()
		setMarker := p.setMarker
		p.mu.Unlock()
		if setMarker {
			http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "/api/sessions/test", Path: "/"})
		}
		return
	}

	p.fetches.Add(1)
	if c, err := r.Cookie(SessionCookie); err != nil || c.Value == "" {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	p.mu.Lock()
	content, ok := p.files[r.URL.Path]
	p.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_, _ = w.Write([]byte(content))
}

// ManifestFile is one <file> entry of a test manifest.
type ManifestFile struct {
	Folder   string
	Filename string
	URL      string
	MD5      string
}

// WriteManifest writes a portal XML manifest into dir and returns its path.
// Files are grouped by folder in first-seen order.
func WriteManifest(t *testing.T, dir string, files ...ManifestFile) string {
	t.Helper()
	var order []string
	byFolder := map[string][]ManifestFile{}
	for _, f := range files {
		if _, ok := byFolder[f.Folder]; !ok {
			order = append(order, f.Folder)
		}
		byFolder[f.Folder] = append(byFolder[f.Folder], f)
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<organismDownloads name="Test_organism">` + "\n")
	for _, folder := range order {
		fmt.Fprintf(&b, "  <folder name=%q>\n", folder)
		for _, f := range byFolder[folder] {
			fmt.Fprintf(&b, "    <file filename=%q url=%q", f.Filename, f.URL)
			if f.MD5 != "" {
				fmt.Fprintf(&b, " md5=%q", f.MD5)
			}
			b.WriteString("/>\n")
		}
		b.WriteString("  </folder>\n")
	}
	b.WriteString("</organismDownloads>\n")

	path := filepath.Join(dir, "manifest.xml")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}
	return path
}

// SetupTestConfig writes a config file pointing gpd at the portal and
// returns its path.
func SetupTestConfig(t *testing.T, p *Portal, extra string) string {
	t.Helper()
	config := fmt.Sprintf(`portal:
  username: user@example.org
  password: secret
settings:
  login_url: %s
  base_url: %s
  session_cookie: %s
  retry_delay: 1ms
%s`, p.LoginURL(), p.URL, SessionCookie, extra)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(config), 0o600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}
