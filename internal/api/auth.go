package api

import (
	"net/http"

	"github.com/nerrad567/btlesniffer/internal/auth"
)

// authenticate validates a token against the configured secret and returns
// its subject.
func (s *Server) authenticate(token string) (string, error) {
	claims, err := auth.ParseToken(token, s.secCfg.JWT.Secret)
	if err != nil {
		s.logger.Debug("rejected api token", "error", err)
		return "", err
	}
	return claims.Subject, nil
}

// authenticateWebSocket accepts a bearer header or a ?token= query
// parameter. It writes the 401 itself and reports whether to proceed.
func (s *Server) authenticateWebSocket(w http.ResponseWriter, r *http.Request) bool {
	if s.secCfg.JWT.Secret == "" {
		return true
	}

	token, ok := bearerToken(r)
	if !ok {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		writeUnauthorized(w, "token query parameter is required")
		return false
	}
	if _, err := s.authenticate(token); err != nil {
		writeUnauthorized(w, "invalid or expired token")
		return false
	}
	return true
}
