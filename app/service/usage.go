package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-stats-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/metrics"
)

type UsageLogRepository interface {
	Insert(ctx context.Context, rec *entity.UsageRecord) error
}

type UsageRecorder interface {
	Record(rec entity.UsageRecord)
	Close(ctx context.Context) error
}

type UsageOptions struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

type usageRecorder struct {
	repo         UsageLogRepository
	queue        chan entity.UsageRecord
	writeTimeout time.Duration
	wg           sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewUsageRecorder starts the worker pool. A nil repo logs records without
// persisting them.
func NewUsageRecorder(repo UsageLogRepository, opts UsageOptions) UsageRecorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	r := &usageRecorder{
		repo:         repo,
		queue:        make(chan entity.UsageRecord, opts.QueueSize),
		writeTimeout: opts.WriteTimeout,
	}
	for i := 0; i < opts.Workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
	return r
}

// Record enqueues rec without blocking. A full queue, or a closed recorder,
// drops the record.
func (r *usageRecorder) Record(rec entity.UsageRecord) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		metrics.UsageRecordsDroppedTotal.Inc()
		return
	}

	select {
	case r.queue <- rec:
	default:
		metrics.UsageRecordsDroppedTotal.Inc()
		logrus.WithField("endpoint", rec.Endpoint).Debug("Usage queue full, dropping record")
	}
}

// Close stops accepting records and waits for the queue to drain or ctx to end.
func (r *usageRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *usageRecorder) work() {
	defer r.wg.Done()
	for rec := range r.queue {
		r.persist(&rec)
	}
}

func (r *usageRecorder) persist(rec *entity.UsageRecord) {
	entry := logrus.WithFields(logrus.Fields{
		"endpoint":      rec.Endpoint,
		"method":        rec.HTTPMethod,
		"status":        rec.StatusCode,
		"response_ms":   rec.ResponseTime.Milliseconds(),
		"request_id":    rec.RequestID,
		"rate_limited":  rec.RateLimited,
		"degraded":      rec.Degraded,
		"user_id":       rec.UserID.Int64,
		"api_key_id":    rec.APIKeyID.Int64,
		"auth_failure":  rec.AuthFailure.String,
		"plan":          rec.RateLimitPlan.String,
	})
	entry.Debug("API usage")

	if r.repo == nil {
		return
	}

	ctx := context.Background()
	if r.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.writeTimeout)
		defer cancel()
	}
	if err := r.repo.Insert(ctx, rec); err != nil {
		metrics.UsageWriteErrorsTotal.Inc()
		entry.WithError(err).Error("Failed to persist usage record")
	}
}
