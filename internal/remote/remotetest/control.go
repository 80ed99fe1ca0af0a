package remotetest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// AddUser registers credentials accepted by the password grant.
func (s *Server) AddUser(email, password, ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[strings.ToLower(email)] = user{id: ownerID, email: email, password: password}
}

// IssueToken returns a fresh access token for ownerID, bypassing login.
func (s *Server) IssueToken(ownerID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok := "at-" + uuid.NewString()
	s.access[tok] = ownerID

	return tok
}

// RevokeAccessTokens invalidates every access token. Refresh tokens keep
// working, so the next request triggers exactly one refresh.
func (s *Server) RevokeAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.access = make(map[string]string)
}

// RevokeAll invalidates access and refresh tokens.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.access = make(map[string]string)
	s.refresh = make(map[string]string)
}

// Fail makes the next times requests to route (e.g. "POST /api/v1/recipes/")
// whose subject contains match answer with status. The subject is the recipe
// title for create and update, the id for delete and the object name for
// uploads. times < 0 fails forever.
func (s *Server) Fail(route, match string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = append(s.failures, failure{route: route, match: match, status: status, times: times})
}

// ClearFailures removes every injected failure.
func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = nil
}

// OverrideNextIDs makes the next creates return these ids instead of fresh
// UUIDs.
func (s *Server) OverrideNextIDs(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.idOverride = append(s.idOverride, ids...)
}

// BlockCreates holds every create request until release is called.
func (s *Server) BlockCreates() (release func()) {
	gate := make(chan struct{})

	s.mu.Lock()
	s.createGate = gate
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if s.createGate == gate {
			s.createGate = nil
		}
		s.mu.Unlock()
		close(gate)
	}
}

// SetExtraction sets the body returned by parse-url and ocr.
func (s *Server) SetExtraction(body any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.extraction = body
}

// OCRMethods returns the method query of each accepted ocr request, in
// order. An empty entry means none was sent.
func (s *Server) OCRMethods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.ocrMethods...)
}

// Calls returns how many requests reached route, authenticated or not.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[route]
}

// PayloadsWithID counts create payloads that carried an "id" field.
func (s *Server) PayloadsWithID() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sentIDs
}

// Recipes returns ownerID's stored recipes.
func (s *Server) Recipes(ownerID string) []Recipe {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Recipe
	for _, r := range s.recipes {
		if r.UserID == ownerID {
			out = append(out, *r)
		}
	}

	return out
}

// Recipe returns one stored recipe.
func (s *Server) Recipe(id string) (Recipe, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.recipes[id]
	if !ok {
		return Recipe{}, false
	}

	return *r, true
}

// Seed stores a recipe directly, as if created from another device.
func (s *Server) Seed(r Recipe) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	if r.CreatedAt == "" {
		r.CreatedAt = now
	}

	if r.UpdatedAt == "" {
		r.UpdatedAt = r.CreatedAt
	}

	for _, t := range r.Tags {
		s.tags[t.ID] = t
	}

	s.recipes[r.ID] = &r

	return r.ID
}

// Media returns an uploaded object by "<namespace>/<name>" key.
func (s *Server) Media(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.media[key]

	return data, ok
}

// MediaKeys lists uploaded object keys.
func (s *Server) MediaKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.media))
	for k := range s.media {
		keys = append(keys, k)
	}

	return keys
}

// Broadcast sends {"type": eventType} to every websocket client.
func (s *Server) Broadcast(ctx context.Context, eventType string) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.wsConns))
	for c := range s.wsConns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"`+eventType+`"}`))
	}
}

// DropWebsockets closes every websocket session, simulating a network drop.
func (s *Server) DropWebsockets() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.wsConns))
	for c := range s.wsConns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "dropped")
	}
}

// WebsocketClients returns the number of connected websocket clients.
func (s *Server) WebsocketClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.wsConns)
}

// handleToken implements the OAuth2 password and refresh_token grants.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls["POST /oauth/token"]++
	s.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, "invalid_request")
		return
	}

	var (
		owner string
		email string
	)

	switch r.PostForm.Get("grant_type") {
	case "password":
		s.mu.Lock()
		u, ok := s.users[strings.ToLower(r.PostForm.Get("username"))]
		s.mu.Unlock()

		if !ok || u.password != r.PostForm.Get("password") {
			writeOAuthError(w, "invalid_grant")
			return
		}

		owner, email = u.id, u.email
	case "refresh_token":
		s.mu.Lock()
		o, ok := s.refresh[r.PostForm.Get("refresh_token")]
		s.mu.Unlock()

		if !ok {
			writeOAuthError(w, "invalid_grant")
			return
		}

		owner = o
	default:
		writeOAuthError(w, "unsupported_grant_type")
		return
	}

	access := "at-" + uuid.NewString()
	refresh := "rt-" + uuid.NewString()

	s.mu.Lock()
	s.access[access] = owner
	s.refresh[refresh] = owner
	expiry := s.tokenExpiry
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"refresh_token": refresh,
		"expires_in":    int(expiry.Seconds()),
		"user":          map[string]string{"id": owner, "email": email},
	})
}

func writeOAuthError(w http.ResponseWriter, code string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": code})
}
