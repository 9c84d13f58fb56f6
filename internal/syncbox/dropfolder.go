package syncbox

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	dropFolderSweepInterval = 2 * time.Second
	dropFolderMaxAttempts   = 5
	rejectedSuffix          = ".rejected"
)

type DropFolderOptions struct {
	Dir       string
	Engine    *Engine
	Validator *EnvelopeValidator
	Logger    Logger
}

// DropFolder ingests mutation envelopes written as JSON files into a
// watched directory. Collaborators that cannot reach the management API
// (scripts, spreadsheet exports) drop a file; the engine validates it,
// enqueues it, and removes the file. Invalid envelopes are renamed with a
// .rejected suffix instead of being retried forever.
type DropFolder struct {
	dir       string
	engine    *Engine
	validator *EnvelopeValidator
	logger    Logger
	attempts  map[string]int
}

func NewDropFolder(opts DropFolderOptions) (*DropFolder, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" || opts.Engine == nil {
		return nil, ErrInvalidInput
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DropFolder{
		dir:       dir,
		engine:    opts.Engine,
		validator: opts.Validator,
		logger:    opts.Logger,
		attempts:  map[string]int{},
	}, nil
}

// Run watches the folder until ctx is done. A periodic sweep backstops
// missed filesystem events and files that were still being written when
// their create event fired.
func (d *DropFolder) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(d.dir); err != nil {
		return err
	}
	d.sweep()

	ticker := time.NewTicker(dropFolderSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if isDroppedEnvelope(event.Name) {
				d.ingest(event.Name)
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logf("drop folder watch error: %v", watchErr)
		case <-ticker.C:
			d.sweep()
		}
	}
}

func (d *DropFolder) sweep() {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		d.logf("drop folder sweep failed: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := filepath.Join(d.dir, entry.Name())
		if isDroppedEnvelope(name) {
			d.ingest(name)
		}
	}
}

func (d *DropFolder) ingest(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			d.logf("read dropped envelope %s: %v", path, err)
		}
		return
	}
	if !json.Valid(data) {
		// Possibly a partial write; the next event or sweep retries until
		// the attempt budget is spent.
		d.attempts[path]++
		if d.attempts[path] >= dropFolderMaxAttempts {
			d.reject(path, "not valid JSON")
		}
		return
	}
	if d.validator != nil {
		if err := d.validator.Validate(data); err != nil {
			d.reject(path, err.Error())
			return
		}
	}
	var req EnqueueRequest
	if err := json.Unmarshal(data, &req); err != nil {
		d.reject(path, err.Error())
		return
	}
	item, err := d.engine.AddToQueue(req)
	if err != nil {
		d.logf("enqueue dropped envelope %s: %v", path, err)
		return
	}
	delete(d.attempts, path)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logf("remove ingested envelope %s: %v", path, err)
	}
	d.logf("ingested dropped envelope %s as %s", filepath.Base(path), item.ID)
}

func (d *DropFolder) reject(path, reason string) {
	delete(d.attempts, path)
	if err := os.Rename(path, path+rejectedSuffix); err != nil {
		d.logf("reject envelope %s: %v", path, err)
		return
	}
	d.logf("rejected dropped envelope %s: %s", filepath.Base(path), reason)
}

func (d *DropFolder) logf(format string, args ...any) {
	if d.logger == nil {
		return
	}
	d.logger.Printf(format, args...)
}

func isDroppedEnvelope(path string) bool {
	return strings.HasSuffix(path, ".json") && !strings.HasSuffix(path, rejectedSuffix)
}
