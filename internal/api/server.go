package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"

	"aridialer/internal/ari"
	"aridialer/internal/auth"
	"aridialer/internal/config"
	"aridialer/internal/database"
	"aridialer/internal/dialer"
)

// Server is the loopback control surface: a single GET /start endpoint
// that boots the dialer on first use and re-triggers a run afterwards.
// Everything else answers 404.
type Server struct {
	mu sync.Mutex

	cfg *config.Config

	client    *ari.Client
	engine    *dialer.Engine
	conn      *database.Connection
	writer    *database.Writer
	retention *database.RetentionCleaner

	started bool
}

// NewServer creates the control server over a validated configuration.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Start runs the HTTP listener. Blocks until the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Control.Port)
	log.Printf("[API] Control surface listening on %s", addr)
	return http.ListenAndServe(addr, s.routes())
}

// routes builds the handler: /start behind the optional bearer check,
// every other path a plain 404.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", s.handleStart)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/start" {
			http.NotFound(w, r)
			return
		}
		auth.Middleware(s.cfg.Control.Secret, mux).ServeHTTP(w, r)
	})
}

// Engine exposes the running engine, nil before the first /start.
func (s *Server) Engine() *dialer.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The environment is re-read on every trigger so an operator can
	// point the next run at a new number file without a restart.
	cfg, err := config.Load()
	if err != nil {
		s.fail(w, fmt.Errorf("loading configuration: %w", err))
		return
	}

	if err := os.MkdirAll(cfg.Recording.Dir, 0o755); err != nil {
		s.fail(w, fmt.Errorf("creating recordings dir: %w", err))
		return
	}

	numbers, err := dialer.LoadNumbers(cfg)
	if err != nil {
		s.fail(w, err)
		return
	}

	if !s.started {
		if err := s.boot(cfg, numbers); err != nil {
			s.fail(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintln(w, "Dialer started.")
		return
	}

	s.cfg = cfg
	if s.conn != nil {
		// Drop the pool so a changed MYSQL_* environment takes effect on
		// the next write.
		s.conn.Drop()
	}
	if s.writer != nil {
		s.writer.Reset()
	}

	// The engine swaps its configuration on the reload task so the new
	// MAX_CC, trunk and recording settings govern the next run.
	if s.engine.Reload(cfg, numbers) {
		fmt.Fprintln(w, "Dialer run restarted.")
	} else {
		fmt.Fprintln(w, "Dialer already running.")
	}
}

// boot brings up the full pipeline on the first trigger: persistence,
// the ARI client and the engine.
func (s *Server) boot(cfg *config.Config, numbers []string) error {
	var writer *database.Writer
	if cfg.MySQL.Enabled() {
		s.conn = database.NewConnection(cfg.MySQL)
		repo := database.NewRepository(s.conn, cfg.MySQL.Table)
		writer = database.NewWriter(repo)
		writer.Start()
		s.writer = writer

		s.retention = database.NewRetentionCleaner(repo, cfg.MySQL.RetentionDays)
		s.retention.Start()
	} else {
		log.Println("[API] MySQL not configured, persistence disabled")
	}

	client := ari.NewClient(cfg.ARI)
	if err := client.Connect(); err != nil {
		if writer != nil {
			writer.Stop()
			s.writer = nil
		}
		if s.retention != nil {
			s.retention.Stop()
			s.retention = nil
		}
		return fmt.Errorf("connecting to ARI: %w", err)
	}

	s.cfg = cfg
	s.client = client
	s.engine = dialer.NewEngine(cfg, client, client.Events(), writer)
	s.engine.Start(numbers)
	s.started = true
	return nil
}

// fail answers a 500 with the JSON error envelope.
func (s *Server) fail(w http.ResponseWriter, err error) {
	log.Printf("[API] /start failed: %v", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "error",
		"message": err.Error(),
	})
}
