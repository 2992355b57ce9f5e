package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/dharsanguruparan/xmlgate/internal/config"
	"github.com/dharsanguruparan/xmlgate/internal/ingest"
	"github.com/dharsanguruparan/xmlgate/internal/model"
	"github.com/dharsanguruparan/xmlgate/internal/signing"
)

// Ledger exposes job state.
type Ledger interface {
	Job(ctx context.Context, key string) (*model.Job, error)
}

// Scanner triggers discovery.
type Scanner interface {
	Scan(ctx context.Context) (ingest.ScanReport, error)
	Submit(ctx context.Context, fileName string) (bool, error)
}

// Archive presigns archived documents.
type Archive interface {
	PresignURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error)
}

// Outputs opens written notifications.
type Outputs interface {
	Open(name string) (*os.File, error)
}

// Deps are the collaborators of the ops server.
type Deps struct {
	Ledger  Ledger
	Scanner Scanner
	Archive Archive
	Outputs Outputs
	Signer  *signing.Signer
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server exposes operational endpoints: uploads, scan and process triggers,
// job status and notification downloads.
type Server struct {
	cfg    *config.Config
	deps   Deps
	log    *slog.Logger
	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, deps: deps, log: log.With("component", "api")}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}
	mux.HandleFunc("POST /inputs", s.handleUpload)
	mux.HandleFunc("POST /inputs/{name}/process", s.handleProcess)
	mux.HandleFunc("POST /scan", s.handleScan)
	mux.HandleFunc("GET /jobs/{key}", s.handleJob)
	mux.HandleFunc("GET /jobs/{key}/archive-url", s.handleArchiveURL)
	mux.HandleFunc("GET /jobs/{key}/notification-url", s.handleNotificationURL)
	mux.HandleFunc("GET /download", s.handleDownload)
	return loggingMiddleware(s.log, mux)
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.cfg.Address,
			Handler:           s.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info("api listening", "address", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Scanner.Scan(r.Context())
	if err != nil {
		s.log.Error("scan failed", "error", err)
		http.Error(w, "scan failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(r.PathValue("name"))
	if !ingest.IsInput(name) {
		http.Error(w, "not an xml input", http.StatusBadRequest)
		return
	}
	s.submit(w, r, name)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, name string) {
	enqueued, err := s.deps.Scanner.Submit(r.Context(), name)
	if errors.Is(err, os.ErrNotExist) {
		http.Error(w, "input not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("submit input", "file", name, "error", err)
		http.Error(w, "failed to queue job", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"file": name, "enqueued": enqueued})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.job(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleArchiveURL(w http.ResponseWriter, r *http.Request) {
	job, ok := s.job(w, r)
	if !ok {
		return
	}
	if !job.Status.Reached(model.JobArchived) {
		http.Error(w, "document not archived", http.StatusNotFound)
		return
	}
	url, err := s.deps.Archive.PresignURL(r.Context(), ingest.ObjectKey(job.Key, job.FileName), s.cfg.SignedURLTTL)
	if err != nil {
		s.log.Error("presign archive", "key", job.Key, "error", err)
		http.Error(w, "failed to generate url", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleNotificationURL(w http.ResponseWriter, r *http.Request) {
	job, ok := s.job(w, r)
	if !ok {
		return
	}
	if job.Notification == "" {
		http.Error(w, "notification unavailable", http.StatusNotFound)
		return
	}
	q := s.deps.Signer.Query(job.Notification, s.cfg.SignedURLTTL)
	respondJSON(w, http.StatusOK, map[string]string{
		"url":     "/download?" + q.Encode(),
		"expires": q.Get("expires"),
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name, err := s.deps.Signer.Verify(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	f, err := s.deps.Outputs.Open(name)
	if err != nil {
		http.Error(w, "notification not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, "notification unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(name)+"\"")
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) job(w http.ResponseWriter, r *http.Request) (*model.Job, bool) {
	job, err := s.deps.Ledger.Job(r.Context(), r.PathValue("key"))
	if errors.Is(err, model.ErrNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.log.Error("load job", "error", err)
		http.Error(w, "failed to load job", http.StatusInternalServerError)
		return nil, false
	}
	return job, true
}

// handleUpload drops a multipart "file" into the input directory and
// enqueues it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer part.Close()
	name := filepath.Base(part.FileName())
	if !ingest.IsInput(name) {
		http.Error(w, "only .xml inputs supported", http.StatusBadRequest)
		return
	}
	if err := s.persistInput(part, name); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, os.ErrExist) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.submit(w, r, name)
}

// persistInput copies the upload to a hidden temp file and links it into
// place, so the scanner never sees a partial input.
func (s *Server) persistInput(src io.Reader, name string) error {
	tmp, err := os.CreateTemp(s.cfg.InputDir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	written, err := io.Copy(tmp, io.LimitReader(src, s.cfg.MaxFileSize+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write upload: %w", err)
	}
	if written == 0 {
		return errors.New("empty file")
	}
	if written > s.cfg.MaxFileSize {
		return fmt.Errorf("file exceeds limit (%d bytes)", s.cfg.MaxFileSize)
	}
	if err := os.Link(tmp.Name(), filepath.Join(s.cfg.InputDir, name)); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("input %s already exists: %w", name, os.ErrExist)
		}
		return fmt.Errorf("publish upload: %w", err)
	}
	return nil
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Warn("encode response", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug("request", "method", r.Method, "path", r.URL.Path, "status", strconv.Itoa(rec.status), "elapsed", time.Since(start))
	})
}
