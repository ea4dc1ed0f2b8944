// Package api serves the local HTTP API over a unix socket (the
// traditional mix-socket) or a TCP address: mailbox listing, rescan
// triggers and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mixmail/mix/index"
	"github.com/mixmail/mix/logger"
	"github.com/mixmail/mix/mailbox"
	"github.com/mixmail/mix/scanner"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerOptions holds configuration options for the API server.
type ServerOptions struct {
	Addr   string // TCP address; takes precedence over Socket when set
	Socket string // Unix socket path
}

// Server is the local HTTP API.
type Server struct {
	opts     ServerOptions
	idx      *index.Index
	registry *mailbox.Registry
	scn      *scanner.Scanner
	queue    *scanner.Queue
	server   *http.Server
	started  time.Time
}

// New creates the API server.
func New(opts ServerOptions, idx *index.Index, registry *mailbox.Registry, scn *scanner.Scanner, queue *scanner.Queue) (*Server, error) {
	if opts.Addr == "" && opts.Socket == "" {
		return nil, fmt.Errorf("either a TCP address or a unix socket path is required")
	}
	return &Server{
		opts:     opts,
		idx:      idx,
		registry: registry,
		scn:      scn,
		queue:    queue,
		started:  time.Now(),
	}, nil
}

// Start runs the API server until the context is cancelled. Startup and
// serve failures are sent to errChan.
func Start(ctx context.Context, opts ServerOptions, idx *index.Index, registry *mailbox.Registry, scn *scanner.Scanner, queue *scanner.Queue, errChan chan<- error) {
	s, err := New(opts, idx, registry, scn, queue)
	if err != nil {
		errChan <- fmt.Errorf("failed to create API server: %w", err)
		return
	}
	if err := s.Serve(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		errChan <- fmt.Errorf("API server failed: %w", err)
	}
}

// Serve listens and serves until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}

	s.server = &http.Server{Handler: s.Router()}

	go func() {
		<-ctx.Done()
		logger.Info("API: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("API: error during shutdown", "error", err)
		}
	}()

	return s.server.Serve(ln)
}

func (s *Server) listen() (net.Listener, error) {
	if s.opts.Addr != "" {
		ln, err := net.Listen("tcp", s.opts.Addr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
		}
		logger.Info("API: listening", "addr", s.opts.Addr)
		return ln, nil
	}

	// A stale socket from a previous run would block the listener.
	if err := os.Remove(s.opts.Socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale socket %s: %w", s.opts.Socket, err)
	}
	ln, err := net.Listen("unix", s.opts.Socket)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on socket %s: %w", s.opts.Socket, err)
	}
	logger.Info("API: listening", "socket", s.opts.Socket)
	return ln, nil
}

// Router configures all HTTP routes.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/mailboxes", s.handleListMailboxes).Methods("GET")
	router.HandleFunc("/mailboxes/{name}", s.handleGetMailbox).Methods("GET")
	router.HandleFunc("/mailboxes/{name}/messages", s.handleMessages).Methods("GET")
	router.HandleFunc("/mailboxes/{name}/rescan", s.handleRescan).Methods("POST")
	router.HandleFunc("/scan", s.handleScan).Methods("POST")
	router.HandleFunc("/status", s.handleStatus).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("API: failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleListMailboxes(w http.ResponseWriter, r *http.Request) {
	records, err := s.idx.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []index.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetMailbox(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	rec, err := s.idx.GetByName(r.Context(), name)
	if errors.Is(err, index.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	m, err := s.registry.Get(name)
	if errors.Is(err, mailbox.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = parsed
	}

	infos, err := m.Messages(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if infos == nil {
		infos = []mailbox.MessageInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	m, err := s.registry.Get(name)
	if errors.Is(err, mailbox.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.queue.Push(scanner.Task{Type: scanner.TaskRescan, Mailbox: m})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "mailbox": name})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	discovered, err := s.scn.Scan(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"discovered": discovered})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.idx.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registered":   s.registry.Len(),
		"queued_tasks": s.queue.Len(),
		"uptime":       time.Since(s.started).Round(time.Second).String(),
		"index":        stats,
	})
}
