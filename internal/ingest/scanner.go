package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dharsanguruparan/xmlgate/internal/checksum"
	"github.com/dharsanguruparan/xmlgate/internal/metrics"
	"github.com/dharsanguruparan/xmlgate/internal/queue"
)

// ScanReport summarizes one scan.
type ScanReport struct {
	Discovered int `json:"discovered"`
	Enqueued   int `json:"enqueued"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Scanner lists the input directory and enqueues inputs that have not
// reached a terminal state.
type Scanner struct {
	dir     string
	ledger  JobLedger
	queue   queue.Enqueuer
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewScanner constructs a Scanner for dir.
func NewScanner(dir string, ledger JobLedger, enqueuer queue.Enqueuer, m *metrics.Metrics, log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{dir: dir, ledger: ledger, queue: enqueuer, metrics: m, log: log}
}

// IsInput reports whether name looks like an input document.
func IsInput(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".xml")
}

// Scan enqueues every new input. Per-file failures are counted and logged;
// only a failure to list the directory is returned.
func (s *Scanner) Scan(ctx context.Context) (ScanReport, error) {
	var report ScanReport
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return report, fmt.Errorf("list input dir: %w", err)
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if entry.IsDir() || !IsInput(entry.Name()) {
			continue
		}
		report.Discovered++
		enqueued, err := s.Submit(ctx, entry.Name())
		switch {
		case err != nil:
			report.Failed++
			s.log.Warn("scan input", "file", entry.Name(), "error", err)
		case enqueued:
			report.Enqueued++
		default:
			report.Skipped++
		}
	}
	s.metrics.ScanFinished(report.Enqueued, report.Skipped, report.Failed)
	s.log.Info("scan finished", "discovered", report.Discovered, "enqueued", report.Enqueued, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

// Submit registers and enqueues a single input. It reports false when the
// input is already finished or its task is still live.
func (s *Scanner) Submit(ctx context.Context, fileName string) (bool, error) {
	fileName = filepath.Base(fileName)
	key, _, err := checksum.FileKey(filepath.Join(s.dir, fileName))
	if err != nil {
		return false, err
	}
	job, err := s.ledger.Register(ctx, key, fileName)
	if err != nil {
		return false, fmt.Errorf("register job: %w", err)
	}
	if job.Status.Terminal() {
		return false, nil
	}
	err = s.queue.EnqueueProcess(ctx, queue.ProcessPayload{Key: key, FileName: fileName})
	if errors.Is(err, queue.ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.log.Debug("input enqueued", "file", fileName, "key", key)
	return true, nil
}
