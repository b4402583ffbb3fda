// Package cleanup enforces artifact retention on session output directories.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/optics-suite/optics/pkg/config"
	"github.com/optics-suite/optics/pkg/session"
)

// Service periodically removes stale session output directories from the
// output root. A directory is stale when no live session owns it and its
// last modification is older than the retention age. Sweeps are idempotent;
// a failure on one directory never stops the rest.
type Service struct {
	root     string
	maxAge   time.Duration
	interval time.Duration
	manager  *session.Manager
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention service sweeping root. Retention knobs come
// from the global config: retention_days <= 0 disables the sweeper entirely,
// an unset cleanup_interval_min falls back to the default.
func NewService(root string, global config.Global, manager *session.Manager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	interval := time.Duration(global.CleanupIntervalMin) * time.Minute
	if interval <= 0 {
		interval = time.Duration(config.DefaultGlobal().CleanupIntervalMin) * time.Minute
	}
	return &Service{
		root:     root,
		maxAge:   time.Duration(global.RetentionDays) * 24 * time.Hour,
		interval: interval,
		manager:  manager,
		logger:   logger,
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	if s.maxAge <= 0 {
		s.logger.Info("Artifact retention disabled")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Cleanup service started",
		"output_root", s.root,
		"retention", s.maxAge,
		"interval", s.interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep removes every session output directory older than the retention
// age. Directories of live sessions are kept regardless of age.
func (s *Service) sweep() {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		s.logger.Error("Retention: reading output root failed", "root", s.root, "error", err)
		return
	}

	live := make(map[string]bool)
	for _, id := range s.manager.List() {
		live[id] = true
	}

	cutoff := time.Now().Add(-s.maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || live[entry.Name()] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.logger.Error("Retention: stat failed", "dir", entry.Name(), "error", err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			s.logger.Error("Retention: removing output dir failed", "dir", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("Retention: removed stale session output", "count", removed)
	}
}
