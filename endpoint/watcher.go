package endpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mhcomm/pypeman/channel"
	"github.com/mhcomm/pypeman/message"
	"github.com/mhcomm/pypeman/node"
)

// FileWatcher polls a directory and injects one message per new or
// modified file matching the pattern. The payload is the file content;
// meta carries the name, path and modification time.
type FileWatcher struct {
	name     string
	dir      string
	pattern  *regexp.Regexp
	interval time.Duration
	ch       *channel.Channel
	logger   zerolog.Logger

	mu   sync.Mutex
	seen map[string]time.Time
	stop chan struct{}
	done chan struct{}
}

// NewFileWatcher builds a watcher over dir. Files are selected by the
// pattern regular expression matched against the base name; interval
// defaults to one second when zero.
func NewFileWatcher(name, dir, pattern string, interval time.Duration, ch *channel.Channel, logger zerolog.Logger) (*FileWatcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: invalid file pattern: %w", name, err)
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &FileWatcher{
		name:     name,
		dir:      dir,
		pattern:  re,
		interval: interval,
		ch:       ch,
		logger:   logger.With().Str("endpoint", name).Logger(),
		seen:     map[string]time.Time{},
	}, nil
}

func (w *FileWatcher) Name() string { return w.name }

// Start launches the polling loop. Files already present are considered
// seen, only subsequent changes produce messages.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return fmt.Errorf("endpoint %s: already started", w.name)
	}
	w.prime()
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop(w.stop, w.done)
	w.logger.Info().Str("dir", w.dir).Msg("file watcher started")
	return nil
}

func (w *FileWatcher) prime() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !w.pattern.MatchString(e.Name()) {
			continue
		}
		if info, err := e.Info(); err == nil {
			w.seen[e.Name()] = info.ModTime()
		}
	}
}

func (w *FileWatcher) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.scan()
		}
	}
}

func (w *FileWatcher) scan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Error().Err(err).Msg("directory read failed")
		return
	}
	for _, e := range entries {
		if e.IsDir() || !w.pattern.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if prev, ok := w.seen[e.Name()]; ok && !info.ModTime().After(prev) {
			continue
		}
		w.seen[e.Name()] = info.ModTime()
		w.emit(e.Name(), info.ModTime())
	}
}

func (w *FileWatcher) emit(name string, mtime time.Time) {
	path := filepath.Join(w.dir, name)
	content, err := os.ReadFile(path)
	if err != nil {
		w.logger.Error().Err(err).Str("file", path).Msg("file read failed")
		return
	}
	msg := message.New(content)
	msg.Meta["filename"] = name
	msg.Meta["filepath"] = path
	msg.Meta["modified"] = mtime
	if _, err := w.ch.Handle(context.Background(), msg); err != nil && !node.IsDropped(err) {
		w.logger.Error().Err(err).Str("file", path).Msg("file message failed")
	}
}

// Stop terminates the polling loop and waits for it to exit.
func (w *FileWatcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	stop, done := w.stop, w.done
	w.stop, w.done = nil, nil
	w.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
