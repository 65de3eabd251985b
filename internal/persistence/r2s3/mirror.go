package r2s3

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"voxelmind/internal/trainer"
)

// Uploader is the part of Client the mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type Stats struct {
	QueueDepth          int    `json:"queue_depth"`
	QueueCapacity       int    `json:"queue_capacity"`
	EnqueuedTotal       uint64 `json:"enqueued_total"`
	QueueSaturatedTotal uint64 `json:"queue_saturated_total"`
	DroppedTotal        uint64 `json:"dropped_total"`
	UploadSuccessTotal  uint64 `json:"upload_success_total"`
	UploadFailTotal     uint64 `json:"upload_fail_total"`
	LastSuccessUnix     int64  `json:"last_success_unix"`
	LastErrorUnix       int64  `json:"last_error_unix"`
}

type MirrorOptions struct {
	Prefix        string
	Workers       int
	QueueCapacity int
	EnqueueWait   time.Duration
	Attempts      int
	Log           logrus.FieldLogger
}

// Mirror copies checkpoint files under root to the bucket in the background.
// Object keys are the file paths relative to root, below Prefix. It serves as a
// trainer.Index so every saved checkpoint is queued as soon as it is recorded.
type Mirror struct {
	up       Uploader
	root     string
	prefix   string
	log      logrus.FieldLogger
	wait     time.Duration
	attempts int
	backoff  func(attempt int) time.Duration

	mu     sync.RWMutex
	closed bool
	jobs   chan string
	wg     sync.WaitGroup

	enqueuedTotal       atomic.Uint64
	queueSaturatedTotal atomic.Uint64
	droppedTotal        atomic.Uint64
	uploadSuccessTotal  atomic.Uint64
	uploadFailTotal     atomic.Uint64
	lastSuccessUnix     atomic.Int64
	lastErrorUnix       atomic.Int64
}

func NewMirror(up Uploader, root string, o MirrorOptions) *Mirror {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 256
	}
	if o.EnqueueWait <= 0 {
		o.EnqueueWait = 25 * time.Millisecond
	}
	if o.Attempts <= 0 {
		o.Attempts = 4
	}
	if o.Log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		o.Log = l
	}
	m := &Mirror{
		up:       up,
		root:     root,
		prefix:   strings.Trim(strings.ReplaceAll(o.Prefix, "\\", "/"), "/"),
		log:      o.Log,
		wait:     o.EnqueueWait,
		attempts: o.Attempts,
		backoff:  func(a int) time.Duration { return time.Duration(a*a) * 200 * time.Millisecond },
		jobs:     make(chan string, o.QueueCapacity),
	}
	for i := 0; i < o.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.uploadOne(p)
			}
		}()
	}
	return m
}

func (m *Mirror) RecordEpisode(trainer.EpisodeSummary) {}
func (m *Mirror) RecordTrain(trainer.TrainRound)       {}

func (m *Mirror) RecordCheckpoint(c trainer.CheckpointInfo) { m.Enqueue(c.Path) }

// Enqueue queues localPath for upload, waiting briefly when the queue is full
// and dropping the job after that. Calls after Close are ignored.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil || localPath == "" {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	m.enqueuedTotal.Add(1)

	select {
	case m.jobs <- localPath:
		return
	default:
	}
	m.queueSaturatedTotal.Add(1)
	timer := time.NewTimer(m.wait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
	case <-timer.C:
		dropped := m.droppedTotal.Add(1)
		m.log.WithFields(logrus.Fields{"path": localPath, "dropped_total": dropped}).Warn("mirror queue saturated, dropping upload")
	}
}

// Close drains queued uploads and stops the workers.
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
		QueueDepth:          len(m.jobs),
		QueueCapacity:       cap(m.jobs),
		EnqueuedTotal:       m.enqueuedTotal.Load(),
		QueueSaturatedTotal: m.queueSaturatedTotal.Load(),
		DroppedTotal:        m.droppedTotal.Load(),
		UploadSuccessTotal:  m.uploadSuccessTotal.Load(),
		UploadFailTotal:     m.uploadFailTotal.Load(),
		LastSuccessUnix:     m.lastSuccessUnix.Load(),
		LastErrorUnix:       m.lastErrorUnix.Load(),
	}
}

func (m *Mirror) uploadOne(localPath string) {
	log := m.log.WithField("path", localPath)
	key, err := m.objectKey(localPath)
	if err != nil {
		log.WithError(err).Warn("mirror skip")
		return
	}
	log = log.WithField("key", key)

	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		lastErr = m.up.PutFile(ctx, key, localPath)
		cancel()
		if lastErr == nil {
			break
		}
		if attempt < m.attempts {
			time.Sleep(m.backoff(attempt))
		}
	}
	if lastErr != nil {
		m.uploadFailTotal.Add(1)
		m.lastErrorUnix.Store(time.Now().UTC().Unix())
		log.WithError(lastErr).Warn("mirror upload failed")
		return
	}
	m.uploadSuccessTotal.Add(1)
	m.lastSuccessUnix.Store(time.Now().UTC().Unix())
	log.Debug("mirror uploaded")
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	absRoot, err := filepath.Abs(m.root)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absRoot, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside %s", absLocal, absRoot)
	}
	if m.prefix != "" {
		return path.Join(m.prefix, rel), nil
	}
	return rel, nil
}
