// Package remotetest provides an in-memory recipe service for tests. It
// speaks the same REST, media, extraction, OAuth token and websocket
// endpoints as the real service and lets tests inject failures.
package remotetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Recipe is the service's stored representation.
type Recipe struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	PrepTime    int          `json:"prep_time,omitempty"`
	CookTime    int          `json:"cook_time,omitempty"`
	Servings    int          `json:"servings,omitempty"`
	Difficulty  string       `json:"difficulty,omitempty"`
	CuisineType string       `json:"cuisine_type,omitempty"`
	ImageURL    string       `json:"image_url,omitempty"`
	SourceURL   string       `json:"source_url,omitempty"`
	Source      string       `json:"source,omitempty"`
	Notes       string       `json:"notes,omitempty"`
	CreatedAt   string       `json:"created_at"`
	UpdatedAt   string       `json:"updated_at"`
	Ingredients []Ingredient `json:"ingredients"`
	Steps       []Step       `json:"steps"`
	Tags        []Tag        `json:"tags"`
}

type Ingredient struct {
	ID         string  `json:"id,omitempty"`
	Name       string  `json:"name"`
	Amount     float64 `json:"amount,omitempty"`
	Unit       string  `json:"unit,omitempty"`
	Notes      string  `json:"notes,omitempty"`
	OrderIndex int     `json:"order_index"`
}

type Step struct {
	ID          string `json:"id,omitempty"`
	Description string `json:"description"`
	OrderIndex  int    `json:"order_index"`
	Duration    int    `json:"duration,omitempty"`
	Temperature int    `json:"temperature,omitempty"`
}

type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// payload is what clients send on create and update. ID is decoded only so
// tests can assert it was never sent.
type payload struct {
	ID          *string      `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	PrepTime    int          `json:"prep_time"`
	CookTime    int          `json:"cook_time"`
	Servings    int          `json:"servings"`
	Difficulty  string       `json:"difficulty"`
	CuisineType string       `json:"cuisine_type"`
	ImageURL    string       `json:"image_url"`
	SourceURL   string       `json:"source_url"`
	Source      string       `json:"source"`
	Notes       string       `json:"notes"`
	Ingredients []Ingredient `json:"ingredients"`
	Steps       []Step       `json:"steps"`
	TagIDs      []string     `json:"tag_ids"`
	TagNames    []string     `json:"tag_names"`
}

type user struct {
	id       string
	email    string
	password string
}

// Server is a fake recipe service. All methods are safe for concurrent use.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	recipes  map[string]*Recipe
	tags     map[string]Tag // by id
	media    map[string][]byte
	users    map[string]user   // by email
	access   map[string]string // access token -> owner
	refresh  map[string]string // refresh token -> owner
	calls    map[string]int
	failures []failure

	idOverride  []string
	createGate  chan struct{}
	extraction  any
	ocrMethods  []string
	sentIDs     int
	wsConns     map[*websocket.Conn]struct{}
	nowFunc     func() time.Time
	tokenExpiry time.Duration
}

type failure struct {
	route  string
	match  string // substring of the recipe title or path; empty matches all
	status int
	times  int // remaining; <0 means forever
}

// New starts a server and registers its shutdown with t.Cleanup.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		recipes:     make(map[string]*Recipe),
		tags:        make(map[string]Tag),
		media:       make(map[string][]byte),
		users:       make(map[string]user),
		access:      make(map[string]string),
		refresh:     make(map[string]string),
		calls:       make(map[string]int),
		wsConns:     make(map[*websocket.Conn]struct{}),
		nowFunc:     time.Now,
		tokenExpiry: time.Hour,
	}

	s.srv = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)

	return s
}

// URL is the service root, suitable for remote.Config.BaseURL.
func (s *Server) URL() string {
	return s.srv.URL
}

// TokenURL is the OAuth2 token endpoint.
func (s *Server) TokenURL() string {
	return s.srv.URL + "/oauth/token"
}

// Close closes websocket sessions and stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.wsConns))
	for c := range s.wsConns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
	}

	s.srv.CloseClientConnections()
	s.srv.Close()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/oauth/token", s.handleToken)
	r.Get("/ws", s.withAuth(s.handleWebsocket))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/recipes/", s.withAuth(s.handleList))
		r.Post("/recipes/", s.withAuth(s.handleCreate))
		r.Get("/recipes/{id}", s.withAuth(s.handleGet))
		r.Put("/recipes/{id}", s.withAuth(s.handleUpdate))
		r.Delete("/recipes/{id}", s.withAuth(s.handleDelete))
		r.Post("/media/{namespace}", s.withAuth(s.handleUpload))
		r.Post("/parse-url/", s.withAuth(s.handleParseURL))
		r.Post("/ocr/", s.withAuth(s.handleOCR))
	})

	return r
}

// ownerHandler is an authenticated handler.
type ownerHandler func(w http.ResponseWriter, r *http.Request, owner string)

func (s *Server) withAuth(h ownerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + routePattern(r)

		s.mu.Lock()
		s.calls[route]++
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		owner, ok := s.access[tok]
		s.mu.Unlock()

		if !ok {
			writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		h(w, r, owner)
	}
}

// routePattern collapses ids so call counters group by endpoint.
func routePattern(r *http.Request) string {
	p := r.URL.Path

	switch {
	case strings.HasPrefix(p, "/api/v1/recipes/") && p != "/api/v1/recipes/":
		return "/api/v1/recipes/{id}"
	case strings.HasPrefix(p, "/api/v1/media/"):
		return "/api/v1/media/{namespace}"
	default:
		return p
	}
}

// takeFailure consumes a matching injected failure.
func (s *Server) takeFailure(route, subject string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.failures {
		f := &s.failures[i]
		if f.route != route || f.times == 0 {
			continue
		}

		if f.match != "" && !strings.Contains(subject, f.match) {
			continue
		}

		if f.times > 0 {
			f.times--
		}

		return f.status
	}

	return 0
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request, owner string) {
	if st := s.takeFailure("GET /api/v1/recipes/", ""); st != 0 {
		writeError(w, st, "injected failure")
		return
	}

	s.mu.Lock()
	out := make([]Recipe, 0, len(s.recipes))
	for _, rec := range s.recipes {
		if rec.UserID == owner {
			out = append(out, *rec)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, owner string) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	rec, ok := s.recipes[id]
	var out Recipe
	if ok {
		out = *rec
	}
	s.mu.Unlock()

	if !ok || out.UserID != owner {
		writeError(w, http.StatusNotFound, "Recipe not found")
		return
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, owner string) {
	p, ok := decodePayload(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	gate := s.createGate
	if p.ID != nil {
		s.sentIDs++
	}
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	if st := s.takeFailure("POST /api/v1/recipes/", p.Title); st != 0 {
		writeError(w, st, "injected failure")
		return
	}

	now := s.nowFunc().UTC().Format(time.RFC3339Nano)

	s.mu.Lock()
	id := uuid.NewString()
	if len(s.idOverride) > 0 {
		id = s.idOverride[0]
		s.idOverride = s.idOverride[1:]
	}

	rec := &Recipe{ID: id, UserID: owner, CreatedAt: now}
	s.applyLocked(rec, p, now)
	s.recipes[id] = rec
	out := *rec
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, owner string) {
	id := chi.URLParam(r, "id")

	p, ok := decodePayload(w, r)
	if !ok {
		return
	}

	if st := s.takeFailure("PUT /api/v1/recipes/{id}", p.Title); st != 0 {
		writeError(w, st, "injected failure")
		return
	}

	now := s.nowFunc().UTC().Format(time.RFC3339Nano)

	s.mu.Lock()
	rec, found := s.recipes[id]
	if !found || rec.UserID != owner {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Recipe not found")

		return
	}

	s.applyLocked(rec, p, now)
	out := *rec
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, owner string) {
	id := chi.URLParam(r, "id")

	if st := s.takeFailure("DELETE /api/v1/recipes/{id}", id); st != 0 {
		writeError(w, st, "injected failure")
		return
	}

	s.mu.Lock()
	rec, found := s.recipes[id]
	if found && rec.UserID == owner {
		delete(s.recipes, id)
	}
	s.mu.Unlock()

	if !found || rec.UserID != owner {
		writeError(w, http.StatusNotFound, "Recipe not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, owner string) {
	namespace := chi.URLParam(r, "namespace")
	name := r.URL.Query().Get("name")

	if st := s.takeFailure("POST /api/v1/media/{namespace}", name); st != 0 {
		writeError(w, st, "injected failure")
		return
	}

	if namespace != owner {
		writeError(w, http.StatusForbidden, "namespace belongs to another user")
		return
	}

	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := namespace + "/" + name

	s.mu.Lock()
	if _, exists := s.media[key]; exists {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "object already exists")

		return
	}

	s.media[key] = data
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"url": s.srv.URL + "/media/" + key})
}

func (s *Server) handleParseURL(w http.ResponseWriter, r *http.Request, _ string) {
	var req struct {
		URL string `json:"url"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusUnprocessableEntity, "url is required")
		return
	}

	if st := s.takeFailure("POST /api/v1/parse-url/", req.URL); st != 0 {
		writeError(w, st, "URL parsing failed: injected failure")
		return
	}

	s.mu.Lock()
	out := s.extraction
	s.mu.Unlock()

	if out == nil {
		out = map[string]any{"title": "Parsed from " + req.URL}
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request, _ string) {
	method := r.URL.Query().Get("method")
	switch method {
	case "", "vision", "hybrid", "tesseract":
	default:
		writeError(w, http.StatusBadRequest, "Invalid OCR method: "+method)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if st := s.takeFailure("POST /api/v1/ocr/", header.Filename); st != 0 {
		writeError(w, st, "Failed to process image")
		return
	}

	data, _ := io.ReadAll(file)

	s.mu.Lock()
	s.ocrMethods = append(s.ocrMethods, method)
	out := s.extraction
	s.mu.Unlock()

	if out == nil {
		out = map[string]any{
			"text":   string(data),
			"recipe": map[string]any{"title": "Scanned " + header.Filename},
		}
	}

	writeJSON(w, http.StatusOK, out)
}

// applyLocked copies a payload onto rec, assigning ids to nested rows and
// resolving tags by id or name.
func (s *Server) applyLocked(rec *Recipe, p *payload, now string) {
	rec.Title = p.Title
	rec.Description = p.Description
	rec.PrepTime = p.PrepTime
	rec.CookTime = p.CookTime
	rec.Servings = p.Servings
	rec.Difficulty = p.Difficulty
	rec.CuisineType = p.CuisineType
	rec.ImageURL = p.ImageURL
	rec.SourceURL = p.SourceURL
	rec.Source = p.Source
	rec.Notes = p.Notes
	rec.UpdatedAt = now

	rec.Ingredients = make([]Ingredient, 0, len(p.Ingredients))
	for _, ing := range p.Ingredients {
		ing.ID = uuid.NewString()
		rec.Ingredients = append(rec.Ingredients, ing)
	}

	rec.Steps = make([]Step, 0, len(p.Steps))
	for _, st := range p.Steps {
		st.ID = uuid.NewString()
		rec.Steps = append(rec.Steps, st)
	}

	rec.Tags = make([]Tag, 0, len(p.TagIDs))
	seen := make(map[string]bool)

	for i, id := range p.TagIDs {
		tag, ok := s.tags[id]
		if !ok && i < len(p.TagNames) {
			tag = s.tagByNameLocked(p.TagNames[i])
		}

		if tag.ID == "" || seen[tag.ID] {
			continue
		}

		seen[tag.ID] = true
		rec.Tags = append(rec.Tags, tag)
	}
}

func (s *Server) tagByNameLocked(name string) Tag {
	for _, t := range s.tags {
		if strings.EqualFold(t.Name, name) {
			return t
		}
	}

	t := Tag{ID: uuid.NewString(), Name: name}
	s.tags[t.ID] = t

	return t
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request, _ string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.wsConns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsConns, conn)
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Block until the client goes away; the server only pushes.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

func decodePayload(w http.ResponseWriter, r *http.Request) (*payload, bool) {
	var p payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid body: %v", err))
		return nil, false
	}

	if strings.TrimSpace(p.Title) == "" {
		writeError(w, http.StatusUnprocessableEntity, "title is required")
		return nil, false
	}

	return &p, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
