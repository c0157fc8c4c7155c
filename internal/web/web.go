package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"simcal/internal/clock"
	"simcal/internal/config"
	"simcal/internal/ics"
	appLog "simcal/internal/log"
	"simcal/internal/model"
	"simcal/internal/notes"
	"simcal/internal/session"
)

const maxBody = 1 << 20

// Server exposes one session over HTTP: the shared date, notes, moons,
// the note feed and (in host mode) the broadcast hub on /ws.
type Server struct {
	cfg  *config.Config
	sess *session.Session
	hub  http.Handler
	host *clock.HostFlag
	mux  *http.ServeMux
	now  func() time.Time

	// The ICS feed is rebuilt only after a note changes.
	feedMu    sync.RWMutex
	feedCache *feedCache
	unsub     func()
}

type feedCache struct {
	body string
}

// NewServer constructs a new Server. hub may be nil when this process is
// a client of another host; host may be nil when nothing feeds a host
// pause flag.
func NewServer(cfg *config.Config, sess *session.Session, hub http.Handler, host *clock.HostFlag) *Server {
	s := &Server{
		cfg:  cfg,
		sess: sess,
		hub:  hub,
		host: host,
		mux:  http.NewServeMux(),
		now:  time.Now,
	}
	s.unsub = sess.OnNoteChanged().Subscribe(func(session.NoteChange) { s.invalidateFeed() })
	s.registerRoutes()
	return s
}

// Close detaches the server from the session.
func (s *Server) Close() { s.unsub() }

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="simcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves s on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, s *Server) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen, "hub", s.hub != nil)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/date", s.handleDate)
	s.mux.HandleFunc("/api/date/visible", s.handleVisible)
	s.mux.HandleFunc("/api/clock/{action}", s.handleClock)
	s.mux.HandleFunc("/api/notes", s.handleNotes)
	s.mux.HandleFunc("/api/notes/active", s.handleActive)
	s.mux.HandleFunc("/api/notes/{id}", s.handleNote)
	s.mux.HandleFunc("/api/notes.ics", s.handleFeed)
	s.mux.HandleFunc("/api/moons", s.handleMoons)
	if s.hub != nil {
		s.mux.Handle("/ws", s.hub)
	}
	if s.host != nil {
		s.mux.HandleFunc("/api/host/pause", s.handleHostPause)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type dateResponse struct {
	Date      model.Date   `json:"date"`
	Elapsed   float64      `json:"elapsed"`
	Status    clock.Status `json:"status"`
	Formatted string       `json:"formatted"`
	Visible   model.Date   `json:"visible"`
	Weekday   string       `json:"weekday,omitempty"`
	ClientID  string       `json:"client_id"`
	Role      string       `json:"role"`
	LeaderID  string       `json:"leader_id,omitempty"`
}

type setDateRequest struct {
	Date    model.Date `json:"date"`
	Elapsed *float64   `json:"elapsed,omitempty"`
}

// handleDate reports the shared clock (GET) or moves it (POST, leader
// only).
//
// GET /api/date?format=YYYY-MM-DD
func (s *Server) handleDate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.dateResponse(r.URL.Query().Get("format")))

	case http.MethodPost:
		var req setDateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		// Without an explicit elapsed value the time of day in the body is
		// used.
		cal := s.sess.Calendar()
		elapsed := float64(cal.TimeToSeconds(req.Date.Hour, req.Date.Minute, req.Date.Second))
		if req.Elapsed != nil {
			elapsed = *req.Elapsed
		}
		if err := s.sess.SetDate(req.Date.DateOnly(), elapsed); err != nil {
			if errors.Is(err, clock.ErrNotLeader) {
				writeError(w, http.StatusConflict, "only the leader can set the date")
				return
			}
			appLog.Error("api date: set failed", err)
			writeError(w, http.StatusInternalServerError, "failed to set date")
			return
		}
		writeJSON(w, http.StatusOK, s.dateResponse(""))

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) dateResponse(pattern string) dateResponse {
	st := s.sess.ClockState()
	el := s.sess.Elector()
	resp := dateResponse{
		Date:      st.Date,
		Elapsed:   st.Elapsed,
		Status:    st.Status,
		Formatted: s.sess.FormatDate(st.Date, pattern),
		Visible:   s.sess.VisibleDate(),
		ClientID:  s.sess.ID(),
		Role:      el.Role().String(),
		LeaderID:  el.LeaderID(),
	}
	cal := s.sess.Calendar()
	if idx := cal.Weekday(st.Date); idx >= 0 {
		resp.Weekday = cal.WeekdayAt(idx).Name
	}
	return resp
}

// handleVisible pins (POST) or releases (DELETE) the date this client is
// looking at.
func (s *Server) handleVisible(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var d model.Date
		if !decodeBody(w, r, &d) {
			return
		}
		s.sess.SetVisibleDate(&d)
	case http.MethodDelete:
		s.sess.SetVisibleDate(nil)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodDelete)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.VisibleDate())
}

// handleClock runs a clock transition: POST /api/clock/{start|resume|pause|stop}.
func (s *Server) handleClock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var err error
	switch r.PathValue("action") {
	case "start":
		err = s.sess.Start(false)
	case "resume":
		err = s.sess.Start(true)
	case "pause":
		err = s.sess.Pause()
	case "stop":
		s.sess.Stop()
	default:
		writeError(w, http.StatusNotFound, "unknown clock action")
		return
	}
	if err != nil {
		if errors.Is(err, clock.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		appLog.Error("api clock: transition failed", err, "action", r.PathValue("action"))
		writeError(w, http.StatusInternalServerError, "clock transition failed")
		return
	}
	writeJSON(w, http.StatusOK, s.dateResponse(""))
}

// handleHostPause reads (GET) or sets (PUT {"paused":true}) the host
// pause flag the clock honours with unify_pause.
func (s *Server) handleHostPause(w http.ResponseWriter, r *http.Request) {
	type hostPause struct {
		Paused bool `json:"paused"`
	}
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var req hostPause
		if !decodeBody(w, r, &req) {
			return
		}
		s.host.Set(req.Paused)
		appLog.Info("host pause changed", "paused", req.Paused)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut)
		return
	}
	writeJSON(w, http.StatusOK, hostPause{Paused: s.host.IsHostPaused()})
}

// handleNotes lists notes (GET) or creates/replaces one (POST).
func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.sess.Notes())
	case http.MethodPost:
		var n notes.Note
		if !decodeBody(w, r, &n) {
			return
		}
		if _, err := notes.ParseRecurrence(string(n.Schedule.Recurrence)); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		stored, err := s.sess.UpsertNote(n)
		if err != nil {
			appLog.Error("api notes: upsert failed", err, "id", n.ID)
			writeError(w, http.StatusInternalServerError, "failed to save note")
			return
		}
		writeJSON(w, http.StatusOK, stored)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleNote(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		n, ok := s.sess.Note(id)
		if !ok {
			writeError(w, http.StatusNotFound, "note not found")
			return
		}
		writeJSON(w, http.StatusOK, n)
	case http.MethodDelete:
		if err := s.sess.RemoveNote(id); err != nil {
			if errors.Is(err, notes.ErrNotFound) {
				writeError(w, http.StatusNotFound, "note not found")
				return
			}
			appLog.Error("api notes: remove failed", err, "id", id)
			writeError(w, http.StatusInternalServerError, "failed to remove note")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

type activeResponse struct {
	Date  model.Date `json:"date"`
	Notes []string   `json:"notes"`
}

// handleActive lists the ids of notes in effect on a date.
//
// GET /api/notes/active?year=1492&month=3&day=4&hour=10
//   - any field left out is taken from the visible date
func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	d := s.queryDate(r)
	writeJSON(w, http.StatusOK, activeResponse{Date: d, Notes: s.sess.ActiveNotesFor(d)})
}

type moonsResponse struct {
	Date   model.Date          `json:"date"`
	Phases []session.MoonPhase `json:"phases"`
}

func (s *Server) handleMoons(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	d := s.queryDate(r)
	writeJSON(w, http.StatusOK, moonsResponse{Date: d, Phases: s.sess.MoonPhases(d)})
}

// handleFeed serves the notes as iCalendar (GET) or imports a feed
// (POST). Imported notes go through the normal upsert path so other
// clients hear about them.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, s.feed())

	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		list, err := ics.Import(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		imported := make([]string, 0, len(list))
		for _, n := range list {
			stored, err := s.sess.UpsertNote(n)
			if err != nil {
				appLog.Error("api feed: import upsert failed", err, "id", n.ID)
				continue
			}
			imported = append(imported, stored.ID)
		}
		writeJSON(w, http.StatusOK, map[string][]string{"imported": imported})

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) feed() string {
	s.feedMu.RLock()
	fc := s.feedCache
	s.feedMu.RUnlock()
	if fc != nil {
		return fc.body
	}

	body := ics.Export(s.sess.Notes(), s.now())

	s.feedMu.Lock()
	s.feedCache = &feedCache{body: body}
	s.feedMu.Unlock()
	return body
}

func (s *Server) invalidateFeed() {
	s.feedMu.Lock()
	s.feedCache = nil
	s.feedMu.Unlock()
}

// queryDate reads year/month/day/hour/minute from the query, defaulting
// each to the visible date, and clamps the result to the calendar.
func (s *Server) queryDate(r *http.Request) model.Date {
	q := r.URL.Query()
	d := s.sess.VisibleDate()
	d.Year = parseIntDefault(q.Get("year"), d.Year)
	d.Month = parseIntDefault(q.Get("month"), d.Month)
	d.Day = parseIntDefault(q.Get("day"), d.Day)
	d.Hour = parseIntDefault(q.Get("hour"), d.Hour)
	d.Minute = parseIntDefault(q.Get("minute"), d.Minute)
	clamped, _ := s.sess.Calendar().Clamp(d)
	return clamped
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
