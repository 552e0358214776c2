// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package auth

import (
	"encoding/base64"
	"framereplay/pkg/log"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptHashCost bcrypt hash cost.
const DefaultBcryptHashCost = 10

// Authenticator protects routes with basic auth for a single admin account.
// All requests are allowed if no password hash is configured.
type Authenticator struct {
	username string
	hash     []byte

	// Authorization header to result.
	authCache map[string]bool

	hashCost int
	logger   log.ILogger
	mu       sync.Mutex
}

// NewAuthenticator returns a authenticator for username.
func NewAuthenticator(username string, passwordHash string, logger log.ILogger) *Authenticator {
	return &Authenticator{
		username:  username,
		hash:      []byte(passwordHash),
		authCache: make(map[string]bool),
		hashCost:  DefaultBcryptHashCost,
		logger:    logger,
	}
}

// AuthDisabled if all requests should be allowed.
func (a *Authenticator) AuthDisabled() bool {
	return len(a.hash) == 0
}

// ValidateRequest Should always take the same amount of
// time to run, even when username or password is invalid.
func (a *Authenticator) ValidateRequest(r *http.Request) bool {
	if a.AuthDisabled() {
		return true
	}

	req := r.Header.Get("Authorization")
	a.mu.Lock()
	valid, cacheExist := a.authCache[req]
	a.mu.Unlock()
	if cacheExist {
		return valid
	}

	name, pass := parseBasicAuth(req)
	if name != a.username {
		// Generate fake hash to prevent timing based attacks.
		bcrypt.GenerateFromPassword([]byte(name), a.hashCost) //nolint:errcheck
	} else {
		valid = passwordsMatch(a.hash, pass)
	}

	a.mu.Lock()
	a.authCache[req] = valid
	a.mu.Unlock()
	return valid
}

// Modified from net/http.
func parseBasicAuth(str string) (username, password string) {
	const prefix = "Basic "
	if len(str) < len(prefix) || !strings.EqualFold(str[:len(prefix)], prefix) {
		return
	}
	c, err := base64.StdEncoding.DecodeString(str[len(prefix):])
	if err != nil {
		return
	}
	cs := string(c)
	s := strings.IndexByte(cs, ':')
	if s < 0 {
		return
	}
	return cs[:s], cs[s+1:]
}

func passwordsMatch(hash []byte, plaintext string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(plaintext)) == nil
}

// Admin blocks unauthorized requests and prompts for login.
func (a *Authenticator) Admin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.ValidateRequest(r) {
			if r.Header.Get("Authorization") != "" {
				username, _ := parseBasicAuth(r.Header.Get("Authorization"))
				LogFailedLogin(a.logger, r, username)
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="framereplay"`)
			http.Error(w, "Unauthorized.", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// LogFailedLogin finds and logs the ip.
func LogFailedLogin(logger log.ILogger, r *http.Request, username string) {
	ip := ""
	realIP := r.Header.Get("X-Real-Ip")
	if realIP != "" {
		ip += "real:" + realIP + " "
	}
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" && forwarded != realIP {
		ip += "forwarded:" + forwarded + " "
	}
	remoteAddr := r.RemoteAddr
	if remoteAddr != "" && remoteAddr != forwarded {
		ip += "addr:" + remoteAddr
	}

	log.Info(logger).Src("auth").Msgf("failed login: username: %v %v", username, ip)
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), DefaultBcryptHashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
