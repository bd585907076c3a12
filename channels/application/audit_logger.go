package application

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/audit"
	"github.com/sirupsen/logrus"
)

// AsyncAuditLogger queues entries and appends them to the store in
// batches. When the buffer is full the entry is written synchronously so
// nothing is dropped.
type AsyncAuditLogger struct {
	store         audit.Store
	ch            chan audit.Entry
	stop          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
	flushInterval time.Duration
	batchSize     int
}

type AuditOption func(*AsyncAuditLogger)

func WithFlushInterval(d time.Duration) AuditOption {
	return func(l *AsyncAuditLogger) { l.flushInterval = d }
}

func WithBatchSize(n int) AuditOption {
	return func(l *AsyncAuditLogger) { l.batchSize = n }
}

func NewAsyncAuditLogger(store audit.Store, bufferSize int, opts ...AuditOption) *AsyncAuditLogger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	l := &AsyncAuditLogger{
		store:         store,
		ch:            make(chan audit.Entry, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		flushInterval: 2 * time.Second,
		batchSize:     100,
	}
	for _, o := range opts {
		o(l)
	}
	go l.flushLoop()
	return l
}

func (l *AsyncAuditLogger) Log(ctx context.Context, entry audit.Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	select {
	case <-l.stop:
		l.write(ctx, []audit.Entry{entry})
		return
	default:
	}
	select {
	case l.ch <- entry:
	default:
		logrus.WithField("instance_id", entry.InstanceID).Warn("[AUDIT] Buffer full, writing synchronously")
		l.write(ctx, []audit.Entry{entry})
	}
}

// Close flushes everything queued and stops the loop.
func (l *AsyncAuditLogger) Close() error {
	l.closeOnce.Do(func() { close(l.stop) })
	<-l.done
	return nil
}

func (l *AsyncAuditLogger) write(ctx context.Context, entries []audit.Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := l.store.Append(ctx, entries...); err != nil {
		logrus.WithError(err).Errorf("[AUDIT] Failed to append %d entries", len(entries))
	}
}

func (l *AsyncAuditLogger) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()
	batch := make([]audit.Entry, 0, l.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		l.write(context.Background(), batch)
		batch = make([]audit.Entry, 0, l.batchSize)
	}

	for {
		select {
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= l.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.stop:
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

// LogOnlyAuditLogger writes audit entries to the application log only.
type LogOnlyAuditLogger struct{}

func (LogOnlyAuditLogger) Log(_ context.Context, entry audit.Entry) {
	logrus.WithFields(logrus.Fields{
		"tenant_id":   entry.TenantID,
		"instance_id": entry.InstanceID,
		"action":      entry.Action,
		"details":     entry.Details,
	}).Info("[AUDIT] Instance activity")
}
