// Package spool implements the durable on-disk retry queue for forward
// requests that could not be delivered immediately.
package spool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tickbridge-systems/tickbridge/internal/metrics"
)

// Request is the exact outbound request that failed, persisted so the
// replayer can reissue it byte-for-byte.
type Request struct {
	URL     string            `json:"url"`
	Payload json.RawMessage   `json:"payload"`
	Headers map[string]string `json:"headers"`
}

// Queue is a directory of spooled forward requests. Files are never mutated
// in place: a request is written once (temp file, then rename, so a
// half-written file is never visible) and deleted only after a confirmed
// successful replay. Unique filenames keep concurrent writers from colliding.
type Queue struct {
	dir     string
	written uint64
}

func NewQueue(dir string) (*Queue, error) {
	if dir == "" {
		dir = "./spool"
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}

	return &Queue{dir: dir}, nil
}

// Dir returns the spool directory path.
func (q *Queue) Dir() string {
	return q.dir
}

// Spool persists a failed forward request under a collision-free name:
// <prefix>-<epochms>-<uuidhex>.json.
func (q *Queue) Spool(prefix string, req Request) (string, error) {
	if q == nil {
		return "", fmt.Errorf("spool queue not configured")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal spool entry: %w", err)
	}

	name := fmt.Sprintf("%s-%d-%s.json", prefix, time.Now().UnixMilli(), strings.ReplaceAll(uuid.New().String(), "-", ""))
	final := filepath.Join(q.dir, name)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write spool entry: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to publish spool entry: %w", err)
	}

	atomic.AddUint64(&q.written, 1)
	metrics.SpooledRequests.Inc()
	metrics.SpoolDepth.Set(float64(q.Depth()))

	return name, nil
}

// List returns the names of all spooled requests in creation order.
// In-flight temp files are excluded.
func (q *Queue) List() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list spool directory: %w", err)
	}

	type spoolFile struct {
		name    string
		modTime time.Time
	}

	files := make([]spoolFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, spoolFile{name: entry.Name(), modTime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		if !files[i].modTime.Equal(files[j].modTime) {
			return files[i].modTime.Before(files[j].modTime)
		}
		return files[i].name < files[j].name
	})

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	return names, nil
}

// Read loads one spooled request by name.
func (q *Queue) Read(name string) (Request, error) {
	var req Request

	data, err := os.ReadFile(filepath.Join(q.dir, name))
	if err != nil {
		return req, fmt.Errorf("failed to read spool entry: %w", err)
	}

	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("failed to parse spool entry %s: %w", name, err)
	}
	if req.URL == "" {
		return req, fmt.Errorf("spool entry %s has no url", name)
	}

	return req, nil
}

// Delete removes a spooled request after a confirmed successful replay.
func (q *Queue) Delete(name string) error {
	if err := os.Remove(filepath.Join(q.dir, name)); err != nil {
		return fmt.Errorf("failed to delete spool entry: %w", err)
	}
	metrics.SpoolDepth.Set(float64(q.Depth()))
	return nil
}

// Depth returns the number of spooled requests awaiting replay.
func (q *Queue) Depth() int {
	names, err := q.List()
	if err != nil {
		return 0
	}
	return len(names)
}

// Stats returns operational counters for health and debug endpoints.
func (q *Queue) Stats() map[string]interface{} {
	if q == nil {
		return map[string]interface{}{"enabled": false}
	}
	return map[string]interface{}{
		"enabled":  true,
		"written":  atomic.LoadUint64(&q.written),
		"pending":  q.Depth(),
		"base_dir": q.dir,
	}
}
