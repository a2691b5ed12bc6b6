// Package embedded provides an embeddable rdv server for in-process use.
package embedded

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/plouffe/rdv/internal/auth"
	httpapi "github.com/plouffe/rdv/internal/http"
	"github.com/plouffe/rdv/internal/storage/sqlite"
	"github.com/plouffe/rdv/internal/ws"
)

// Config configures the embedded server
type Config struct {
	// DBPath is the path to the SQLite database file.
	// If empty, defaults to ~/.rdv/rdv.db
	DBPath string

	// Port is the HTTP port to listen on.
	// If 0, defaults to 7380.
	Port int

	// Host is the host to bind to.
	// If empty, defaults to localhost (127.0.0.1).
	Host string

	// Handler processes mail notifications. The hosting process supplies
	// its own negotiation engine here; if nil, POST /api/notifications
	// is rejected with 503.
	Handler httpapi.NotificationHandler
}

// Server is an embedded rdv server
type Server struct {
	cfg     Config
	store   *sqlite.Store
	hub     *ws.Hub
	http    *http.Server
	started bool
	mu      sync.Mutex
}

// New creates a new embedded rdv server
func New(cfg Config) (*Server, error) {
	return build(cfg, nil)
}

// NewWithAuth creates an embedded server with API key authentication
// enabled. Keys are loaded from the file named by RDV_KEYS_FILE, or
// rdv.keys.yaml next to the working directory.
func NewWithAuth(cfg Config) (*Server, error) {
	keyring, err := auth.LoadKeyringFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load auth: %w", err)
	}
	return build(cfg, auth.Middleware(keyring))
}

func build(cfg Config, mw func(http.Handler) http.Handler) (*Server, error) {
	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		cfg.DBPath = filepath.Join(home, ".rdv", "rdv.db")
	}
	if cfg.Port == 0 {
		cfg.Port = 7380
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	hub := ws.NewHub()
	svc := httpapi.NewService(sqlite.NewResilient(store), cfg.Handler)
	router := httpapi.NewRouter(svc, hub.Handler(), mw)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return &Server{
		cfg:   cfg,
		store: store,
		hub:   hub,
		http:  httpServer,
	}, nil
}

// Start starts the embedded server in a goroutine
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// The main app owns the lifecycle, so report and carry on.
			fmt.Fprintf(os.Stderr, "rdv server error: %v\n", err)
		}
	}()

	// Wait a moment for the server to start
	time.Sleep(50 * time.Millisecond)
	return nil
}

// Stop stops the embedded server gracefully
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Addr returns the server's listen address
func (s *Server) Addr() string {
	return s.http.Addr
}

// URL returns the base URL for the server
func (s *Server) URL() string {
	return fmt.Sprintf("http://%s", s.http.Addr)
}

// Hub returns the event hub so the hosting process can publish
// transitions to connected subscribers.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// Store returns the underlying store for direct access if needed
func (s *Server) Store() *sqlite.Store {
	return s.store
}
