package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"ontime/internal/app"
	"ontime/internal/clock"
	"ontime/internal/config"
	"ontime/internal/history"
	"ontime/internal/ics"
	appLog "ontime/internal/log"
)

const (
	maxPatchBytes   = 4 << 10
	shutdownTimeout = 5 * time.Second
)

// Schedules is the set of running schedule instances the API exposes.
type Schedules interface {
	Instances() []*app.Instance
	Instance(id string) (*app.Instance, bool)
}

// Server provides the HTTP API for schedule status, input control,
// occurrence previews and firing history.
type Server struct {
	cfg       *config.Config
	schedules Schedules
	history   history.Store
	clock     clock.Clock
	mux       *http.ServeMux
}

// NewServer constructs a new Server. hist may be nil.
func NewServer(cfg *config.Config, schedules Schedules, hist history.Store, clk clock.Clock) *Server {
	if hist == nil {
		hist = history.Nop{}
	}
	if clk == nil {
		clk = clock.Real(time.Local)
	}
	s := &Server{
		cfg:       cfg,
		schedules: schedules,
		history:   hist,
		clock:     clk,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. Empty
// credentials disable it.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
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
			w.Header().Set("WWW-Authenticate", `Basic realm="ontime", charset="UTF-8"`)
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

// Run serves on listen until ctx ends, then shuts down gracefully. ready is
// called once the listener is bound.
func (s *Server) Run(ctx context.Context, listen string, ready func(addr net.Addr)) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String())
	if ready != nil {
		ready(ln.Addr())
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/schedules", s.handleSchedules)
	s.mux.HandleFunc("GET /api/schedules/{id}", s.handleSchedule)
	s.mux.HandleFunc("POST /api/schedules/{id}/inputs", s.handleInputs)
	s.mux.HandleFunc("GET /api/schedules/{id}/upcoming", s.handleUpcoming)
	s.mux.HandleFunc("GET /api/schedules/{id}/calendar.ics", s.handleCalendar)
	s.mux.HandleFunc("GET /api/calendar.ics", s.handleCalendar)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// daysDTO carries the weekday flags in Monday-first order.
type daysDTO struct {
	Mon bool `json:"mon"`
	Tue bool `json:"tue"`
	Wed bool `json:"wed"`
	Thu bool `json:"thu"`
	Fri bool `json:"fri"`
	Sat bool `json:"sat"`
	Sun bool `json:"sun"`
}

// scheduleDTO is the JSON view of one schedule.
type scheduleDTO struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	State       string     `json:"state"`
	Hour        int        `json:"hour"`
	Minute      int        `json:"minute"`
	Days        daysDTO    `json:"days"`
	Disabled    bool       `json:"disabled"`
	DisabledPin string     `json:"disabled_pin,omitempty"`
	Cron        string     `json:"cron,omitempty"`
	RRule       string     `json:"rrule,omitempty"`
	Next        *time.Time `json:"next,omitempty"`
	Timezone    string     `json:"timezone"`
}

func (s *Server) toDTO(in *app.Instance) scheduleDTO {
	cfg := in.Engine.Config()
	rule := in.Engine.Rule()
	d := cfg.Days
	dto := scheduleDTO{
		ID:          in.ID,
		Name:        in.Name,
		State:       in.Engine.State().String(),
		Hour:        cfg.Hour,
		Minute:      cfg.Minute,
		Days:        daysDTO{d[0], d[1], d[2], d[3], d[4], d[5], d[6]},
		Disabled:    cfg.Disabled,
		DisabledPin: in.DisabledPin,
		Cron:        rule.CronSpec(),
		Timezone:    in.Location.String(),
	}
	if rr, err := ics.RRuleString(rule); err == nil {
		dto.RRule = rr
	}
	if next, ok := in.Engine.NextOccurrence(s.clock.Now()); ok {
		dto.Next = &next
	}
	return dto
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*app.Instance, bool) {
	id := r.PathValue("id")
	in, ok := s.schedules.Instance(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown schedule: "+id)
		return nil, false
	}
	return in, true
}

func (s *Server) handleSchedules(w http.ResponseWriter, _ *http.Request) {
	list := s.schedules.Instances()
	out := make([]scheduleDTO, 0, len(list))
	for _, in := range list {
		out = append(out, s.toDTO(in))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	in, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.toDTO(in))
}

// handleInputs applies a partial input update, e.g. {"hour": 8, "sat": true}.
func (s *Server) handleInputs(w http.ResponseWriter, r *http.Request) {
	in, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var p app.Patch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPatchBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if p.Empty() {
		writeError(w, http.StatusBadRequest, "no inputs to update")
		return
	}
	if err := in.Apply(p); err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		appLog.Error("api inputs: apply failed", err, "schedule", in.ID)
		writeError(w, http.StatusInternalServerError, "failed to apply inputs")
		return
	}
	appLog.Info("api inputs applied", "schedule", in.ID)
	writeJSON(w, http.StatusOK, s.toDTO(in))
}

type occurrenceDTO struct {
	InstanceKey string    `json:"instance_key"`
	At          time.Time `json:"at"`
}

type upcomingResponse struct {
	ScheduleID  string          `json:"schedule_id"`
	State       string          `json:"state"`
	Occurrences []occurrenceDTO `json:"occurrences"`
}

// handleUpcoming lists the next occurrences of a schedule.
//
// GET /api/schedules/{id}/upcoming?count=10
func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	in, ok := s.lookup(w, r)
	if !ok {
		return
	}
	count := parseIntDefault(r.URL.Query().Get("count"), 10)

	resp := upcomingResponse{
		ScheduleID:  in.ID,
		State:       in.Engine.State().String(),
		Occurrences: []occurrenceDTO{},
	}
	occ, err := ics.Upcoming(in.Engine.Rule(), ics.UpcomingConfig{
		ScheduleID: in.ID,
		Name:       in.Name,
		Location:   in.Location,
		From:       s.clock.Now(),
		Count:      count,
	})
	switch {
	case errors.Is(err, ics.ErrInactive):
	case err != nil:
		appLog.Error("api upcoming: expand failed", err, "schedule", in.ID)
		writeError(w, http.StatusInternalServerError, "failed to expand schedule")
		return
	}
	for _, o := range occ {
		resp.Occurrences = append(resp.Occurrences, occurrenceDTO{InstanceKey: o.InstanceKey, At: o.At})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCalendar serves an iCalendar feed of one schedule, or of all
// schedules when no id is given.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	var list []*app.Instance
	if r.PathValue("id") != "" {
		in, ok := s.lookup(w, r)
		if !ok {
			return
		}
		list = []*app.Instance{in}
	} else {
		list = s.schedules.Instances()
	}

	entries := make([]ics.Entry, 0, len(list))
	for _, in := range list {
		entries = append(entries, ics.Entry{
			ID:       in.ID,
			Name:     in.Name,
			Rule:     in.Engine.Rule(),
			Location: in.Location,
		})
	}
	body, err := ics.Export(entries, s.clock.Now())
	if err != nil {
		appLog.Error("api calendar: export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to export calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

type firingDTO struct {
	ID         int64     `json:"id"`
	ScheduleID string    `json:"schedule_id"`
	Rule       string    `json:"rule"`
	FiredAt    time.Time `json:"fired_at"`
	TookMs     int64     `json:"took_ms"`
	Actions    int       `json:"actions"`
	Failures   int       `json:"failures"`
	Error      string    `json:"error,omitempty"`
}

// handleHistory lists recent firings.
//
// GET /api/history?schedule=porch&limit=50
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseIntDefault(q.Get("limit"), history.DefaultLimit)

	firings, err := s.history.Recent(r.Context(), q.Get("schedule"), limit)
	if errors.Is(err, history.ErrDisabled) {
		writeError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}
	if err != nil {
		appLog.Error("api history: query failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	out := make([]firingDTO, 0, len(firings))
	for _, f := range firings {
		out = append(out, firingDTO{
			ID:         f.ID,
			ScheduleID: f.ScheduleID,
			Rule:       f.Rule,
			FiredAt:    f.FiredAt,
			TookMs:     f.Took.Milliseconds(),
			Actions:    f.Actions,
			Failures:   f.Failures,
			Error:      f.Error,
		})
	}
	writeJSON(w, http.StatusOK, out)
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
