// Package watch re-runs indexing when the raw document folder changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragchat/internal/indexing"
	"github.com/fyrsmithlabs/ragchat/internal/logging"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// DefaultDebounce is the quiet period before a run is triggered.
const DefaultDebounce = 2 * time.Second

// Runner runs indexing.
type Runner interface {
	Run(ctx context.Context) (*indexing.Result, error)
}

// Config controls the watcher.
type Config struct {
	// Path is the folder to watch.
	Path string

	// Debounce is how long the folder must be quiet before a run.
	Debounce time.Duration

	// Match reports whether a changed file name should trigger a run.
	// Nil matches every file.
	Match func(name string) bool
}

// Watcher debounces folder events into indexing runs.
type Watcher struct {
	config  Config
	runner  Runner
	watcher *fsnotify.Watcher
	trigger chan struct{}
	logger  *logging.Logger
}

// New creates a Watcher on cfg.Path, creating the folder if needed.
func New(cfg Config, runner Runner, logger *logging.Logger) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("watch path is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", cfg.Path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := fw.Add(cfg.Path); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("%w: watching %s: %v", ErrWatcherFailed, cfg.Path, err)
	}

	return &Watcher{
		config:  cfg,
		runner:  runner,
		watcher: fw,
		trigger: make(chan struct{}, 1),
		logger:  logger.Named("watch"),
	}, nil
}

// Run watches until ctx is done. Runs never overlap; changes arriving
// during a run queue at most one follow-up run.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	return w.loop(ctx, w.watcher.Events, w.watcher.Errors)
}

// loop debounces events until ctx is done or events is closed. A closed
// errs channel is dropped from the select.
func (w *Watcher) loop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.runLoop(runCtx)
	}()

	var timer *time.Timer
	var timerC <-chan time.Time
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
	}

	w.logger.Info(ctx, "watching folder", zap.String("path", w.config.Path), zap.Duration("debounce", w.config.Debounce))
	for {
		select {
		case <-ctx.Done():
			stopTimer()
			<-done
			return nil

		case event, ok := <-events:
			if !ok {
				stopTimer()
				cancel()
				<-done
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug(ctx, "folder change", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			stopTimer()
			timer = time.NewTimer(w.config.Debounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			select {
			case w.trigger <- struct{}{}:
			default:
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn(ctx, "watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(event.Name)
	// Upload temp files are renamed into place; the final name triggers.
	if strings.HasPrefix(name, ".") {
		return false
	}
	return w.config.Match == nil || w.config.Match(name)
}

func (w *Watcher) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.trigger:
			res, err := w.runner.Run(ctx)
			if err != nil {
				w.logger.Error(ctx, "triggered indexing run failed", zap.Error(err))
				continue
			}
			w.logger.Info(ctx, "triggered indexing run finished",
				zap.String("run_id", res.RunID),
				zap.Int("files", len(res.Files)),
				zap.Int("stored", res.Stored),
				zap.Bool("noop", res.NoOp))
		}
	}
}
