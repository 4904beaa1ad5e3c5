// Package dropdir ingests label images dropped into a directory. A file
// named TOTE001.png is built exactly as if it had been uploaded for tote
// TOTE001, then moved to processed/ or failed/ next to it.
package dropdir

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"totelabel/pkg/label"
)

const (
	ProcessedDir = "processed"
	FailedDir    = "failed"

	pollEvery   = 250 * time.Millisecond
	stableAfter = 300 * time.Millisecond
)

// Builder is the part of label.Builder the watcher needs.
type Builder interface {
	Build(ctx context.Context, toteID string, src []byte) (label.Result, error)
}

type Watcher struct {
	dir      string
	workers  int
	maxBytes int64
	builder  Builder
}

// New returns a watcher over dir. workers <= 0 means one per CPU and
// maxBytes <= 0 disables the size check.
func New(dir string, workers int, maxBytes int64, b Builder) *Watcher {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Watcher{dir: dir, workers: workers, maxBytes: maxBytes, builder: b}
}

// IsSupported reports whether name looks like a droppable label image.
func IsSupported(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp":
		return true
	}
	return false
}

// ToteID derives the tote id from a dropped file name.
func ToteID(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func (w *Watcher) list() []string {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", w.dir).Msg("drop dir not readable")
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !IsSupported(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

// ScanOnce builds every file currently in the directory and waits for them.
// It returns how many were committed.
func (w *Watcher) ScanOnce(ctx context.Context) int {
	files := w.list()
	ch := make(chan string, len(files))
	for _, f := range files {
		ch <- f
	}
	close(ch)
	return w.runWorkerPool(ctx, ch)
}

// Run scans the directory once and then watches it until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return err
	}
	log.Info().Str("dir", w.dir).Int("workers", w.workers).Msg("watching drop dir")
	w.ScanOnce(ctx)

	fileCh := make(chan string, 256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.runWorkerPool(ctx, fileCh)
	}()

	pending := map[string]time.Time{}
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()
	defer func() {
		close(fileCh)
		<-done
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if IsSupported(name) {
				pending[name] = time.Now()
			}
		case now := <-ticker.C:
			for name, t := range pending {
				if now.Sub(t) > stableAfter {
					delete(pending, name)
					select {
					case fileCh <- name:
					case <-ctx.Done():
						return nil
					}
				}
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("drop dir watch error")
		}
	}
}

func (w *Watcher) runWorkerPool(ctx context.Context, files <-chan string) int {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range files {
				if ctx.Err() != nil {
					continue
				}
				if w.processFile(ctx, name) {
					mu.Lock()
					ok++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	return ok
}

func (w *Watcher) processFile(ctx context.Context, name string) bool {
	path := filepath.Join(w.dir, name)
	toteID := ToteID(name)
	logger := log.With().Str("file", name).Str("tote_id", toteID).Logger()

	src, err := w.read(path)
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	if err == nil {
		_, err = w.builder.Build(ctx, toteID, src)
	}
	switch {
	case err == nil:
		if err := moveTo(w.dir, ProcessedDir, name); err != nil {
			logger.Error().Err(err).Msg("move to processed failed")
		}
		logger.Info().Msg("drop file committed")
		return true
	case errors.Is(err, label.ErrInternal), errors.Is(err, context.Canceled):
		// left in place for the next scan
		logger.Error().Err(err).Msg("drop file build failed")
	default:
		logger.Warn().Err(err).Msg("drop file rejected")
		if err := moveTo(w.dir, FailedDir, name); err != nil {
			logger.Error().Err(err).Msg("move to failed dir failed")
		}
	}
	return false
}

func (w *Watcher) read(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var r io.Reader = f
	if w.maxBytes > 0 {
		r = io.LimitReader(f, w.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if w.maxBytes > 0 && int64(len(data)) > w.maxBytes {
		return nil, fmt.Errorf("%w: file larger than %d bytes", label.ErrValidation, w.maxBytes)
	}
	return data, nil
}

// moveTo moves dir/name into dir/sub/name, replacing an older file of the
// same name. It falls back to copy and remove when rename fails.
func moveTo(dir, sub, name string) error {
	dstDir := filepath.Join(dir, sub)
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return err
	}
	src := filepath.Join(dir, name)
	dst := filepath.Join(dstDir, name)
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	return copyRemove(src, dst)
}

func copyRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
