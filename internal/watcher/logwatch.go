package watcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/droidpool/droidpool/internal/config"
	"github.com/droidpool/droidpool/internal/logging"
)

// LogWatcher tails the client application's log files for the payment-error
// signature and fires onMatch when it appears.
//
// Files already present when the watcher starts are cursored at their
// current end, so historical errors never retrigger a failover. Newly
// created files are cursored at zero and read from the top. A file that
// shrinks (rotation, truncation) resets its cursor. The cursor always
// advances to the end of what was read, match or not, so one error fires
// exactly once.
type LogWatcher struct {
	cfg     config.LogWatchConfig
	pattern *regexp.Regexp
	onMatch func(ctx context.Context, line string)
	logger  *logging.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	cursors map[string]int64
	fsw     *fsnotify.Watcher
}

// NewLogWatcher creates a log watcher. onMatch is called at most once per
// scan pass, from the watcher goroutine.
func NewLogWatcher(cfg config.LogWatchConfig, onMatch func(ctx context.Context, line string), logger *logging.Logger) (*LogWatcher, error) {
	if logger == nil {
		logger = logging.NewLogger()
	}
	pattern, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, err
	}
	return &LogWatcher{
		cfg:     cfg,
		pattern: pattern,
		onMatch: onMatch,
		logger:  logger,
		cursors: make(map[string]int64),
	}, nil
}

// Start snapshots existing files and begins watching. No-op when running.
func (w *LogWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	w.initCursors()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		// Creation events degrade to glob rescans; appends still get seen.
		w.logger.Warn("fsnotify unavailable, relying on periodic rescan", "error", err.Error())
	} else {
		w.fsw = fsw
		for _, dir := range w.watchDirs() {
			if err := fsw.Add(dir); err != nil {
				w.logger.Warn("could not watch log directory", "dir", dir, "error", err.Error())
			}
		}
	}

	w.running = true
	w.stopCh = make(chan struct{})
	w.wg.Add(1)
	go w.run(w.stopCh)
	w.logger.Info("log watcher started", "globs", w.cfg.Globs)
	return nil
}

// Stop halts the watcher and waits for the scan loop to exit.
func (w *LogWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	if w.fsw != nil {
		w.fsw.Close()
		w.fsw = nil
	}
	w.logger.Info("log watcher stopped")
}

// IsRunning reports whether the watcher is active.
func (w *LogWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// initCursors places every currently matching file's cursor at its end.
func (w *LogWatcher) initCursors() {
	for _, path := range w.globFiles() {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		w.cursors[path] = info.Size()
	}
}

func (w *LogWatcher) globFiles() []string {
	var out []string
	for _, g := range w.cfg.Globs {
		matches, err := filepath.Glob(g)
		if err != nil {
			continue
		}
		out = append(out, matches...)
	}
	return out
}

func (w *LogWatcher) watchDirs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range w.cfg.Globs {
		dir := filepath.Dir(g)
		if !seen[dir] {
			seen[dir] = true
			out = append(out, dir)
		}
	}
	return out
}

func (w *LogWatcher) run(stopCh chan struct{}) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.ScanInterval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	if w.fsw != nil {
		events = w.fsw.Events
	}

	for {
		select {
		case <-ticker.C:
			w.scan()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				w.noteCreated(ev.Name)
			}
		case <-stopCh:
			return
		}
	}
}

// noteCreated registers a newly created log file with a zero cursor so its
// full content is scanned on the next pass.
func (w *LogWatcher) noteCreated(path string) {
	for _, g := range w.cfg.Globs {
		if ok, _ := filepath.Match(g, path); ok {
			w.mu.Lock()
			if _, known := w.cursors[path]; !known {
				w.cursors[path] = 0
				w.logger.Debug("watching new log file", "path", path)
			}
			w.mu.Unlock()
			return
		}
	}
}

// scan reads freshly appended bytes from every tracked file and fires
// onMatch on the first payment-error hit of the pass.
func (w *LogWatcher) scan() {
	matched := false
	for _, path := range w.globFiles() {
		chunk, ok := w.readAppended(path)
		if !ok || matched {
			continue
		}
		if loc := w.pattern.FindString(chunk); loc != "" {
			matched = true
			w.logger.Warn("payment error detected in client log", "path", path)
			if w.onMatch != nil {
				w.onMatch(context.Background(), loc)
			}
		}
	}
}

// readAppended returns the bytes added since the last scan and advances the
// cursor to the file's end regardless of the content.
func (w *LogWatcher) readAppended(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	size := info.Size()

	w.mu.Lock()
	cursor, known := w.cursors[path]
	if !known || size < cursor {
		// Unknown files appearing mid-run and truncated files both read
		// from the top.
		cursor = 0
	}
	w.cursors[path] = size
	w.mu.Unlock()

	if size == cursor {
		return "", false
	}

	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	if _, err := f.Seek(cursor, io.SeekStart); err != nil {
		return "", false
	}
	buf := make([]byte, size-cursor)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", false
	}
	return string(buf[:n]), true
}
