package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brwnj/gpd/pkg/auth"
	"github.com/brwnj/gpd/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const marker = "jgi_session"

func newSignOnServer(t *testing.T, setCookie func(w http.ResponseWriter)) (*httptest.Server, *[]string) {
	t.Helper()
	var logins []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/signon/create" {
			// download host: echo whether the session came along
			if c, err := r.Cookie(marker); err == nil {
				_, _ = w.Write([]byte(c.Value))
			}
			return
		}
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		logins = append(logins, r.PostForm.Get("login")+":"+r.PostForm.Get("password"))
		setCookie(w)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, &logins
}

func TestLogin_Success(t *testing.T) {
	server, logins := newSignOnServer(t, func(w http.ResponseWriter) {
		http.SetCookie(w, &http.Cookie{Name: marker, Value: "/api/sessions/abc123", Path: "/", Expires: time.Now().Add(time.Hour)})
	})
	outDir := t.TempDir()

	session, err := auth.Login(context.Background(), auth.Credentials{Username: "user@example.org", Password: "p&ss word"}, auth.LoginOptions{
		LoginURL:    server.URL + "/signon/create",
		CookieName:  marker,
		ArtifactDir: outDir,
	})
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, []string{"user@example.org:p&ss word"}, *logins)
	assert.Equal(t, auth.SessionAuthType, session.Type())

	// session artifact is written privately in Netscape format
	artifact := filepath.Join(outDir, auth.ArtifactName)
	assert.Equal(t, artifact, session.ArtifactPath())
	info, err := os.Stat(artifact)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	content, err := os.ReadFile(artifact)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "# Netscape HTTP Cookie File\n"))
	assert.Contains(t, string(content), "\t"+marker+"\t/api/sessions/abc123")

	// Apply carries the session to download requests on the same host
	req, err := http.NewRequest(http.MethodGet, server.URL+"/ext-api/downloads/x", http.NoBody)
	require.NoError(t, err)
	require.NoError(t, session.Apply(req))
	c, err := req.Cookie(marker)
	require.NoError(t, err)
	assert.Equal(t, "/api/sessions/abc123", c.Value)

	require.NoError(t, session.Close())
	assert.NoFileExists(t, artifact)
	require.NoError(t, session.Close())
}

func TestLogin_MarkerMissingOrInactive(t *testing.T) {
	tests := []struct {
		name      string
		setCookie func(w http.ResponseWriter)
	}{
		{
			name:      "no cookies",
			setCookie: func(http.ResponseWriter) {},
		},
		{
			name: "other cookie only",
			setCookie: func(w http.ResponseWriter) {
				http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "x"})
			},
		},
		{
			name: "marker empty",
			setCookie: func(w http.ResponseWriter) {
				http.SetCookie(w, &http.Cookie{Name: marker, Value: ""})
			},
		},
		{
			name: "marker expired",
			setCookie: func(w http.ResponseWriter) {
				http.SetCookie(w, &http.Cookie{Name: marker, Value: "stale", Expires: time.Now().Add(-time.Hour)})
			},
		},
		{
			name: "marker deleted",
			setCookie: func(w http.ResponseWriter) {
				http.SetCookie(w, &http.Cookie{Name: marker, Value: "gone", MaxAge: -1})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newSignOnServer(t, tt.setCookie)
			outDir := t.TempDir()

			session, err := auth.Login(context.Background(), auth.Credentials{Username: "u", Password: "p"}, auth.LoginOptions{
				LoginURL:    server.URL + "/signon/create",
				CookieName:  marker,
				ArtifactDir: outDir,
			})
			require.Error(t, err)
			assert.Nil(t, session)
			assert.ErrorIs(t, err, errors.ErrAuthentication)
			assert.NoFileExists(t, filepath.Join(outDir, auth.ArtifactName))
		})
	}
}

func TestLogin_MissingCredentials(t *testing.T) {
	_, err := auth.Login(context.Background(), auth.Credentials{Username: "u"}, auth.LoginOptions{
		LoginURL:   "http://127.0.0.1:1/signon/create",
		CookieName: marker,
	})
	assert.ErrorIs(t, err, errors.ErrConfig)
}

func TestLogin_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := auth.Login(context.Background(), auth.Credentials{Username: "u", Password: "p"}, auth.LoginOptions{
		LoginURL:   url + "/signon/create",
		CookieName: marker,
	})
	assert.ErrorIs(t, err, errors.ErrAuthentication)
}

func TestAnonymous(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://example.com", http.NoBody)
	require.NoError(t, err)
	require.NoError(t, auth.Anonymous{}.Apply(req))
	assert.Empty(t, req.Header)
	assert.Equal(t, auth.AnonymousAuthType, auth.Anonymous{}.Type())
}
