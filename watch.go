package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tonimelisma/tonies-go/internal/media"
)

const (
	defaultSettle       = 2 * time.Second
	dropFolderTick      = 500 * time.Millisecond
	watchErrInitBackoff = time.Second
	watchErrMaxBackoff  = 30 * time.Second
)

// dropFolder watches a directory for audio files and hands each one to
// ingest once it has stopped changing for settle. Files are handed over one
// at a time, in the loop goroutine.
type dropFolder struct {
	dir    string
	settle time.Duration
	ingest func(ctx context.Context, path string) error
	logger *slog.Logger
	now    func() time.Time

	// pending maps a path to the time of its last write event.
	pending map[string]time.Time
}

func newDropFolder(
	dir string, settle time.Duration, ingest func(context.Context, string) error, logger *slog.Logger,
) *dropFolder {
	if settle <= 0 {
		settle = defaultSettle
	}

	return &dropFolder{
		dir:     dir,
		settle:  settle,
		ingest:  ingest,
		logger:  logger,
		now:     time.Now,
		pending: make(map[string]time.Time),
	}
}

// Run watches until ctx is done.
func (d *dropFolder) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(d.dir); err != nil {
		return fmt.Errorf("watching %s: %w", d.dir, err)
	}

	d.logger.Info("watching drop folder", slog.String("dir", d.dir))

	ticker := time.NewTicker(dropFolderTick)
	defer ticker.Stop()

	backoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			d.note(ev)
			backoff = watchErrInitBackoff

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			d.logger.Warn("drop folder watcher error",
				slog.String("error", werr.Error()),
				slog.Duration("backoff", backoff),
			)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}

			backoff = min(backoff*2, watchErrMaxBackoff)

		case <-ticker.C:
			d.flush(ctx)
		}
	}
}

// note records a create or write of an audio file. Everything else,
// including hidden and partially written files, is ignored.
func (d *dropFolder) note(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".partial") || !media.IsAudio(name) {
		return
	}

	d.pending[ev.Name] = d.now()
}

// flush ingests every pending file that has settled.
func (d *dropFolder) flush(ctx context.Context) {
	now := d.now()

	for path, last := range d.pending {
		if now.Sub(last) < d.settle {
			continue
		}

		delete(d.pending, path)

		if ctx.Err() != nil {
			return
		}

		if err := d.ingest(ctx, path); err != nil {
			d.logger.Warn("drop folder file failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
}
