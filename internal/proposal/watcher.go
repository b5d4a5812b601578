package proposal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Antony-Jia/butler/internal/scheduler"
	"github.com/fsnotify/fsnotify"
)

// File suffixes appended once an inbox file has been handled.
const (
	DoneSuffix     = ".done"
	RejectedSuffix = ".rejected"
	ReasonSuffix   = ".reason"
)

// DefaultSettleDelay is how long a file must stay unchanged before it is read.
const DefaultSettleDelay = 200 * time.Millisecond

// Submitter accepts a decoded batch. source names the file it came from.
type Submitter interface {
	SubmitBatch(ctx context.Context, source string, descs []scheduler.Descriptor) (*scheduler.BatchResult, error)
}

// Rejecter is optionally implemented by a Submitter that wants to hear about
// files that failed to decode and never reached SubmitBatch.
type Rejecter interface {
	RejectBatch(ctx context.Context, source string, err error)
}

// Watcher feeds batch files dropped into an inbox directory to a Submitter.
// Writers should create the file under another name and rename it into
// place; partially written files are still caught by the settle delay.
type Watcher struct {
	dir    string
	submit Submitter
	logger *slog.Logger
	settle time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan string
	done    chan struct{} // closed when Run returns
}

// NewWatcher creates a watcher for dir. The directory is created by Run.
func NewWatcher(dir string, submit Submitter, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Watcher{
		dir:     dir,
		submit:  submit,
		logger:  logger,
		settle:  DefaultSettleDelay,
		pending: make(map[string]*time.Timer),
		ready:   make(chan string, 64),
		done:    make(chan struct{}),
	}
}

// Run processes files already in the inbox, then watches for new ones until
// ctx is cancelled. A Watcher runs once.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.done)

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create inbox: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	// Files dropped while nothing was watching
	existing, err := w.scan()
	if err != nil {
		return err
	}
	for _, path := range existing {
		w.ProcessFile(ctx, path)
	}

	w.logger.Info("watching inbox", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 && IsBatchFile(event.Name) {
				w.schedule(event.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox watch error", "error", err)
		case path := <-w.ready:
			w.ProcessFile(ctx, path)
		}
	}
}

// ProcessFile decodes and submits one batch file, then renames it with the
// .done or .rejected suffix. A rejection also writes a .reason file.
func (w *Watcher) ProcessFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("failed to read batch file", "path", path, "error", err)
		}
		return
	}

	source := filepath.Base(path)

	descs, err := Decode(data)
	if err != nil {
		if r, ok := w.submit.(Rejecter); ok {
			r.RejectBatch(ctx, source, err)
		}
	} else {
		var res *scheduler.BatchResult
		res, err = w.submit.SubmitBatch(ctx, source, descs)
		if err == nil {
			w.logger.Info("batch accepted", "source", source, "groupID", res.GroupID, "tasks", len(res.Tasks))
			w.finish(path, DoneSuffix)
			return
		}
	}

	w.logger.Warn("batch rejected", "source", source, "error", err)
	if werr := os.WriteFile(path+ReasonSuffix, []byte(err.Error()+"\n"), 0644); werr != nil {
		w.logger.Error("failed to write rejection reason", "path", path, "error", werr)
	}
	w.finish(path, RejectedSuffix)
}

func (w *Watcher) finish(path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil {
		w.logger.Error("failed to mark batch file", "path", path, "error", err)
	}
}

// schedule (re)arms the settle timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
}

// scan lists unhandled batch files in name order.
func (w *Watcher) scan() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !IsBatchFile(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(w.dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// IsBatchFile reports whether name looks like an unhandled batch document.
func IsBatchFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
