package r2s3

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	QueueDepth         int
	QueueCapacity      int
	EnqueuedTotal      uint64
	CoalescedTotal     uint64
	SkippedTotal       uint64
	DroppedTotal       uint64
	UploadSuccessTotal uint64
	UploadFailTotal    uint64
	LastSuccessUnix    int64
	LastErrorUnix      int64
}

type MirrorOptions struct {
	DataDir string
	Prefix  string
	Workers int
	// QueueCapacity bounds distinct pending uploads.
	QueueCapacity int
	Logger        *log.Logger
}

type upload struct {
	key   string
	local string
}

// Mirror copies files under the data directory to the bucket in the
// background, keyed by their data-dir relative path. A path enqueued again
// while still pending is uploaded once.
type Mirror struct {
	client  *Client
	dataDir string
	prefix  string
	logger  *log.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
	jobs    chan upload
	wg      sync.WaitGroup

	enqueued    atomic.Uint64
	coalesced   atomic.Uint64
	skipped     atomic.Uint64
	dropped     atomic.Uint64
	uploadOK    atomic.Uint64
	uploadFail  atomic.Uint64
	lastSuccess atomic.Int64
	lastError   atomic.Int64
}

func NewMirror(client *Client, opts MirrorOptions) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 64
	}
	m := &Mirror{
		client:  client,
		dataDir: opts.DataDir,
		prefix:  strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/"),
		logger:  opts.Logger,
		pending: map[string]struct{}{},
		jobs:    make(chan upload, opts.QueueCapacity),
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

// Enqueue schedules localPath for upload without blocking. Paths outside the
// data directory are skipped; a full queue drops the path.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.client == nil {
		return
	}
	m.enqueued.Add(1)
	key, err := m.objectKey(localPath)
	if err != nil {
		m.skipped.Add(1)
		m.printf("snapshot mirror skip local=%s err=%v", localPath, err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.dropped.Add(1)
		return
	}
	if _, ok := m.pending[key]; ok {
		m.coalesced.Add(1)
		return
	}
	select {
	case m.jobs <- upload{key: key, local: localPath}:
		m.pending[key] = struct{}{}
	default:
		n := m.dropped.Add(1)
		m.printf("snapshot mirror drop local=%s reason=queue_full dropped_total=%d", localPath, n)
	}
}

// Close uploads everything still queued, then stops the workers.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.jobs)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:         len(m.jobs),
		QueueCapacity:      cap(m.jobs),
		EnqueuedTotal:      m.enqueued.Load(),
		CoalescedTotal:     m.coalesced.Load(),
		SkippedTotal:       m.skipped.Load(),
		DroppedTotal:       m.dropped.Load(),
		UploadSuccessTotal: m.uploadOK.Load(),
		UploadFailTotal:    m.uploadFail.Load(),
		LastSuccessUnix:    m.lastSuccess.Load(),
		LastErrorUnix:      m.lastError.Load(),
	}
}

func (m *Mirror) worker() {
	defer m.wg.Done()
	for job := range m.jobs {
		m.mu.Lock()
		delete(m.pending, job.key)
		m.mu.Unlock()
		m.upload(job)
	}
}

func (m *Mirror) upload(job upload) {
	err := m.putWithRetry(job)
	switch {
	case err == nil:
		m.uploadOK.Add(1)
		m.lastSuccess.Store(time.Now().UTC().Unix())
		m.printf("snapshot mirror uploaded key=%s", job.key)
	case errors.Is(err, fs.ErrNotExist):
		// Pruned before its turn came.
		m.skipped.Add(1)
	default:
		m.uploadFail.Add(1)
		m.lastError.Store(time.Now().UTC().Unix())
		m.printf("snapshot mirror upload failed key=%s local=%s err=%v", job.key, job.local, err)
	}
}

func (m *Mirror) putWithRetry(job upload) error {
	const attempts = 4
	var err error
	for i := 1; i <= attempts; i++ {
		if _, statErr := os.Stat(job.local); statErr != nil {
			return statErr
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.client.PutFile(ctx, job.key, job.local)
		cancel()
		if err == nil {
			return nil
		}
		if i < attempts {
			time.Sleep(time.Duration(i*i) * 200 * time.Millisecond)
		}
	}
	return err
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	base, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside data dir %s", abs, base)
	}
	if m.prefix != "" {
		return path.Join(m.prefix, rel), nil
	}
	return rel, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// FetchLatest downloads the newest snapshot object under <prefix>/<rel> into
// dstDir and returns the local path. rel is a data-dir relative directory
// such as "worlds/main/snapshots". Snapshot names sort by time.
func (m *Mirror) FetchLatest(ctx context.Context, rel, dstDir string) (string, error) {
	dir := filepath.ToSlash(rel)
	if m.prefix != "" {
		dir = path.Join(m.prefix, dir)
	}
	keys, err := m.client.List(ctx, dir+"/")
	if err != nil {
		return "", err
	}
	snaps := keys[:0]
	for _, k := range keys {
		if strings.HasSuffix(k, ".snap.zst") {
			snaps = append(snaps, k)
		}
	}
	if len(snaps) == 0 {
		return "", fmt.Errorf("no snapshots under %s", dir)
	}
	sort.Strings(snaps)
	key := snaps[len(snaps)-1]
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dstDir, path.Base(key))
	if err := m.client.GetFile(ctx, key, dst); err != nil {
		return "", err
	}
	return dst, nil
}
