package auth

import (
	"encoding/base64"
	"framereplay/pkg/log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestAuth(t *testing.T) (*Authenticator, *log.MockLogger) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pass"), bcrypt.MinCost)
	require.NoError(t, err)

	logger := log.NewMockLogger()
	a := NewAuthenticator("admin", string(hash), logger)
	a.hashCost = bcrypt.MinCost
	return a, logger
}

func basicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func TestValidateRequest(t *testing.T) {
	cases := map[string]struct {
		header   string
		expected bool
	}{
		"ok":            {basicAuth("admin", "pass"), true},
		"wrongPass":     {basicAuth("admin", "nil"), false},
		"wrongUser":     {basicAuth("nil", "pass"), false},
		"missing":       {"", false},
		"invalidBase64": {"Basic @@", false},
		"noColon":       {"Basic " + base64.StdEncoding.EncodeToString([]byte("admin")), false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			a, _ := newTestAuth(t)
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set("Authorization", tc.header)

			require.Equal(t, tc.expected, a.ValidateRequest(r))
			// Cached.
			require.Equal(t, tc.expected, a.ValidateRequest(r))
		})
	}
}

func TestAuthDisabled(t *testing.T) {
	a := NewAuthenticator("admin", "", log.NewMockLogger())
	require.True(t, a.AuthDisabled())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	require.True(t, a.ValidateRequest(r))
}

func TestAdmin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	t.Run("ok", func(t *testing.T) {
		a, _ := newTestAuth(t)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", basicAuth("admin", "pass"))
		w := httptest.NewRecorder()

		a.Admin(next).ServeHTTP(w, r)
		require.Equal(t, http.StatusTeapot, w.Code)
	})
	t.Run("unauthorized", func(t *testing.T) {
		a, logger := newTestAuth(t)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "1.2.3.4"
		r.Header.Set("Authorization", basicAuth("admin", "nil"))
		w := httptest.NewRecorder()

		a.Admin(next).ServeHTTP(w, r)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.Equal(t, `Basic realm="framereplay"`, w.Header().Get("WWW-Authenticate"))

		expected := []log.Entry{{
			Level: log.LevelInfo,
			Src:   "auth",
			Msg:   "failed login: username: admin addr:1.2.3.4",
		}}
		require.Equal(t, expected, logger.Entries())
	})
	t.Run("noHeader", func(t *testing.T) {
		a, logger := newTestAuth(t)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()

		a.Admin(next).ServeHTTP(w, r)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.Empty(t, logger.Entries())
	})
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("pass")
	require.NoError(t, err)
	require.True(t, passwordsMatch([]byte(hash), "pass"))
	require.False(t, passwordsMatch([]byte(hash), "nil"))
}
