package log

import (
	stdlog "log"
	"path/filepath"
	"sync"
	"sync/atomic"

	"pixelcanvas.io/internal/sim/hooks"
)

const auditQueue = 8192

// AuditLogger records accepted mutations and chat of one world. Hooks only
// enqueue; a background goroutine does the file I/O.
type AuditLogger struct {
	mutations *JSONLZstdWriter
	chat      *JSONLZstdWriter
	log       *stdlog.Logger

	ch      chan any
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
}

type chatEntry struct {
	Chat hooks.ChatEvent `json:"chat"`
}

func NewAuditLogger(worldDir string, logger *stdlog.Logger) *AuditLogger {
	l := &AuditLogger{
		mutations: NewJSONLZstdWriter(filepath.Join(worldDir, "audit"), "audit"),
		chat:      NewJSONLZstdWriter(filepath.Join(worldDir, "chat"), "chat"),
		log:       logger,
		ch:        make(chan any, auditQueue),
	}
	l.wg.Add(1)
	go l.loop()
	return l
}

// Register attaches the logger to a world's hook registry.
func (l *AuditLogger) Register(r *hooks.Registry) {
	r.OnPostMutation(l.WriteMutation)
	r.OnChat(l.WriteChat)
}

func (l *AuditLogger) WriteMutation(m hooks.Mutation) { l.enqueue(m) }
func (l *AuditLogger) WriteChat(e hooks.ChatEvent)    { l.enqueue(chatEntry{Chat: e}) }

func (l *AuditLogger) enqueue(v any) {
	if l.closed.Load() {
		return
	}
	select {
	case l.ch <- v:
	default:
		l.dropped.Add(1)
	}
}

func (l *AuditLogger) Dropped() uint64 { return l.dropped.Load() }

func (l *AuditLogger) loop() {
	defer l.wg.Done()
	for v := range l.ch {
		w := l.mutations
		if _, ok := v.(chatEntry); ok {
			w = l.chat
		}
		if err := w.Write(v); err != nil && l.log != nil {
			l.log.Printf("audit write failed err=%v", err)
		}
	}
}

// Close drains queued entries and closes the files.
func (l *AuditLogger) Close() error {
	var err error
	l.once.Do(func() {
		l.closed.Store(true)
		close(l.ch)
		l.wg.Wait()
		err = l.mutations.Close()
		if cerr := l.chat.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
