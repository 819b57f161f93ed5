package webserver

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

type credentials struct {
	user string
	pass string
}

// SetCredentials replaces the user and password required from clients. An
// empty password disables authentication.
func (s *Server) SetCredentials(user, pass string) {
	s.mu.Lock()
	s.creds = credentials{user: user, pass: pass}
	s.mu.Unlock()
}

func (s *Server) credentials() credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// authorized checks the Basic credentials of the Authorization header.
func (s *Server) authorized(header string) bool {
	c := s.credentials()
	if c.pass == "" {
		return true
	}
	user, pass, ok := parseBasicAuth(header)
	if !ok {
		return false
	}
	u := subtle.ConstantTimeCompare([]byte(user), []byte(c.user))
	p := subtle.ConstantTimeCompare([]byte(pass), []byte(c.pass))
	return u&p == 1
}

func parseBasicAuth(header string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	user, pass, ok = strings.Cut(string(raw), ":")
	return user, pass, ok
}
