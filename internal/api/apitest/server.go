// Package apitest provides an in-memory fake of the remote job/log
// collection service for tests.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/grantgumina/kraken/internal/model"
)

const (
	Email    = "ops@example.com"
	Password = "hunter2"
	Token    = "test-token"
)

// Server is a fake remote service. The zero value is not usable, use New.
type Server struct {
	*httptest.Server

	mx       sync.Mutex
	jobs     []model.Job
	lines    map[string][]string
	failLogs int // number of upcoming /logs/new requests answered with 500
	failAll  bool
	block    chan struct{}
}

// New starts a fake server which is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{lines: make(map[string][]string)}

	r := chi.NewRouter()
	r.Post("/auth/login", s.login)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/jobs", s.listJobs)
		r.Post("/jobs/new", s.newJob)
		r.Post("/jobs/remove-all", s.removeAll)
		r.Get("/jobs/{name}", s.logs)
		r.Delete("/jobs/{name}", s.removeJob)
		r.Post("/logs/new", s.newLog)
	})

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// FailLogs makes the next n line submissions fail with a server error.
func (s *Server) FailLogs(n int) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.failLogs = n
}

// FailAll makes every authenticated endpoint fail with a server error.
func (s *Server) FailAll(fail bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.failAll = fail
}

// BlockLogs makes line submissions wait until the returned func is called.
func (s *Server) BlockLogs() (release func()) {
	ch := make(chan struct{})
	s.mx.Lock()
	s.block = ch
	s.mx.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() { close(ch) })
	}
}

// Lines returns a copy of the lines received for a job.
func (s *Server) Lines(job string) []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return slices.Clone(s.lines[job])
}

func (s *Server) Jobs() []model.Job {
	s.mx.Lock()
	defer s.mx.Unlock()
	return slices.Clone(s.jobs)
}

func (s *Server) AddJob(job model.Job) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.jobs = append(s.jobs, job)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var creds model.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if creds.Email != Email || creds.Password != Password {
		auth := false
		writeJSON(w, http.StatusInternalServerError, model.ServerError{Auth: &auth, Message: "invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, model.Token{Auth: true, Token: Token})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-access-token") != Token {
			auth := false
			writeJSON(w, http.StatusInternalServerError, model.ServerError{Auth: &auth, Message: "failed to authenticate token"})
			return
		}
		s.mx.Lock()
		failAll := s.failAll
		s.mx.Unlock()
		if failAll {
			writeError(w, http.StatusInternalServerError, "service unavailable")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Jobs())
}

func (s *Server) newJob(w http.ResponseWriter, r *http.Request) {
	var job model.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if job.Name == "" || job.Machine == "" {
		writeError(w, http.StatusInternalServerError, "name and machine are required")
		return
	}
	s.mx.Lock()
	job.ID = "id-" + strconv.Itoa(len(s.jobs)+1)
	job.Status = "running"
	s.jobs = append(s.jobs, job)
	s.mx.Unlock()
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) logs(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	limit, err := strconv.Atoi(r.Header.Get("x-line-limit"))
	if err != nil || limit < 0 {
		limit = 10
	}
	lines := s.Lines(name)
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	out := make([]model.LogLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, model.LogLine{JobID: name, Line: l})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) removeJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.mx.Lock()
	defer s.mx.Unlock()
	idx := slices.IndexFunc(s.jobs, func(j model.Job) bool { return j.Name == name })
	if idx < 0 {
		writeError(w, http.StatusInternalServerError, "job not found")
		return
	}
	s.jobs = slices.Delete(s.jobs, idx, idx+1)
	delete(s.lines, name)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) removeAll(w http.ResponseWriter, _ *http.Request) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.jobs = nil
	s.lines = make(map[string][]string)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) newLog(w http.ResponseWriter, r *http.Request) {
	var l model.NewLogLine
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mx.Lock()
	block := s.block
	s.mx.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-r.Context().Done():
			return
		}
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	if s.failLogs > 0 {
		s.failLogs--
		writeError(w, http.StatusInternalServerError, "log store unavailable")
		return
	}
	s.lines[l.JobName] = append(s.lines[l.JobName], l.Line)
	w.WriteHeader(http.StatusOK)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ServerError{Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
