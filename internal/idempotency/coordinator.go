package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"decklens/internal/config"
	"decklens/internal/logging"
	"decklens/internal/metrics"
	"decklens/internal/services"
	"decklens/internal/storage"
)

// Work produces a job's result. The returned value is stored as JSON.
type Work func(ctx context.Context) (any, error)

// Options bounds lock lifetime and waiting.
type Options struct {
	LockTTL           time.Duration
	ExecTimeout       time.Duration
	JoinTimeout       time.Duration
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	StoreImages       bool
}

// OptionsFrom converts the TOML section into coordinator options.
func OptionsFrom(cfg config.Idempotency, retention config.Retention) Options {
	return Options{
		LockTTL:           cfg.LockTTLDuration(),
		ExecTimeout:       cfg.ExecTimeoutDuration(),
		JoinTimeout:       cfg.JoinTimeoutDuration(),
		HeartbeatInterval: cfg.HeartbeatIntervalDuration(),
		PollInterval:      cfg.PollInterval(),
		StoreImages:       retention.StoreRawImages,
	}
}

func (o Options) normalized() Options {
	if o.LockTTL <= 0 {
		o.LockTTL = 5 * time.Minute
	}
	if o.ExecTimeout <= 0 {
		o.ExecTimeout = 2 * time.Minute
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = time.Minute
	}
	if o.HeartbeatInterval <= 0 || o.HeartbeatInterval >= o.LockTTL {
		o.HeartbeatInterval = o.LockTTL / 3
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	return o
}

// Coordinator serializes execution per job key across processes sharing a
// storage backend.
type Coordinator struct {
	jobs    storage.Bucket
	locks   storage.Bucket
	images  storage.Bucket
	opts    Options
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	flights map[string]*flight
}

// flight lets in-process joiners wait on the owner without polling.
type flight struct {
	done chan struct{}
	job  Job
	lost bool
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source used for job timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithMetrics records job transitions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New builds a coordinator on backend.
func New(backend storage.Backend, opts Options, options ...Option) *Coordinator {
	base, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		jobs:    backend.Bucket(storage.ClassJobs),
		locks:   backend.Bucket(storage.ClassLocks),
		images:  backend.Bucket(storage.ClassImages),
		opts:    opts.normalized(),
		now:     time.Now,
		base:    base,
		cancel:  cancel,
		flights: make(map[string]*flight),
	}
	for _, opt := range options {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "idempotency")
	return c
}

// Close cancels running owners and waits for them to publish.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

// Handle is the caller's view of a submitted job.
type Handle struct {
	JobID string
	Key   string
	Role  Role

	c      *Coordinator
	flight *flight
	job    Job
}

// Submit runs work at most once per key. The returned handle is never nil
// when err is nil.
func (c *Coordinator) Submit(ctx context.Context, req Request, work Work) (*Handle, error) {
	key, err := DeriveKey(req)
	if err != nil {
		return nil, err
	}
	ctx = services.WithIdempotencyKey(ctx, key)
	logger := logging.WithContext(ctx, c.logger)

	job, ok, err := c.completedJob(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		logger.Debug("reusing completed job", logging.String(logging.FieldJobID, job.ID))
		return &Handle{JobID: job.ID, Key: key, Role: RoleReused, c: c, job: job}, nil
	}
	return c.acquire(ctx, logger, key, req, work)
}

func (c *Coordinator) acquire(ctx context.Context, logger *slog.Logger, key string, req Request, work Work) (*Handle, error) {
	now := c.now().UTC()
	owner := uuid.NewString()
	jobID := uuid.NewString()

	value, err := json.Marshal(lockRecord{Owner: owner, JobID: jobID, AcquiredAt: now})
	if err != nil {
		return nil, fmt.Errorf("encode lock: %w", err)
	}
	lock, created, err := c.locks.PutIfAbsent(ctx, lockKey(key), value, c.opts.LockTTL)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "idempotency", "acquire lock", "", err)
	}
	var prior *Job
	if !created {
		var held lockRecord
		if err := json.Unmarshal(lock.Value, &held); err != nil {
			return nil, fmt.Errorf("decode lock: %w", err)
		}
		if !lock.Expired(now) {
			return c.join(key, held.JobID), nil
		}

		// The holder stopped heartbeating. Restart its job under the same ID
		// so its late publish fails the version check.
		if job, err := c.jobByID(ctx, held.JobID); err == nil && !job.State.Terminal() {
			jobID = held.JobID
			prior = &job
		}
		value, err = json.Marshal(lockRecord{Owner: owner, JobID: jobID, AcquiredAt: now})
		if err != nil {
			return nil, fmt.Errorf("encode lock: %w", err)
		}
		stolen, err := c.locks.CompareAndSwap(ctx, lockKey(key), lock.Version, value, c.opts.LockTTL)
		if errors.Is(err, storage.ErrVersionMismatch) {
			return c.join(key, held.JobID), nil
		}
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "idempotency", "steal lock", "", err)
		}
		logging.WarnWithContext(logger, "stale job lock stolen", "lock_stolen",
			logging.Error(services.Wrap(services.ErrStaleLock, "idempotency", "acquire lock", "lock expired", nil)),
			logging.String("previous_owner", held.Owner),
			logging.String(logging.FieldJobID, jobID),
			logging.Duration("lock_age", now.Sub(held.AcquiredAt)),
			logging.String(logging.FieldErrorHint, "a previous owner crashed or stalled past the lock ttl"),
			logging.String(logging.FieldImpact, "the job restarts from the beginning"),
		)
		lock = stolen
	}

	// A completed job may have been published between the first check and
	// the lock acquisition.
	if job, ok, err := c.completedJob(ctx, key); err == nil && ok {
		c.releaseLock(ctx, logger, key, owner, lock.Version)
		return &Handle{JobID: job.ID, Key: key, Role: RoleReused, c: c, job: job}, nil
	}
	return c.start(ctx, logger, key, jobID, owner, lock, prior, req, work)
}

func (c *Coordinator) start(ctx context.Context, logger *slog.Logger, key, jobID, owner string, lock storage.Record, prior *Job, req Request, work Work) (*Handle, error) {
	now := c.now().UTC()
	job := Job{ID: jobID, Key: key, State: StateRunning, Attempts: 1, Owner: owner, CreatedAt: now, UpdatedAt: now, StartedAt: now}
	if prior != nil {
		job.Attempts = prior.Attempts + 1
		job.CreatedAt = prior.CreatedAt
	} else if previous, ok, _ := c.jobByKey(ctx, key); ok {
		job.Attempts = previous.Attempts + 1
	}
	rec, err := c.writeJob(ctx, job)
	if err != nil {
		c.releaseLock(context.WithoutCancel(ctx), logger, key, owner, lock.Version)
		return nil, err
	}
	if _, err := c.jobs.Put(ctx, indexKey(key), []byte(jobID), 0); err != nil {
		c.releaseLock(context.WithoutCancel(ctx), logger, key, owner, lock.Version)
		return nil, services.Wrap(services.ErrTransient, "idempotency", "index job", "", err)
	}
	if c.opts.StoreImages && len(req.Content) > 0 {
		if _, err := c.images.Put(ctx, imageKey(req.ContentDigest()), req.Content, 0); err != nil {
			logging.WarnWithContext(logger, "raw image not stored", "image_store_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "the job runs without a stored copy of its input"),
			)
		}
	}

	f := &flight{done: make(chan struct{})}
	c.mu.Lock()
	c.flights[key] = f
	c.mu.Unlock()

	c.metrics.JobTransition(string(StateRunning))
	logger.Info("job started",
		logging.String(logging.FieldJobID, jobID),
		logging.Int("attempt", job.Attempts),
		logging.String(logging.FieldEventType, "job_started"),
	)

	c.wg.Add(1)
	go c.run(ctx, key, job, rec.Version, lock.Version, f, work)
	return &Handle{JobID: jobID, Key: key, Role: RoleOwner, c: c, flight: f}, nil
}

// ownership tracks the lock version as heartbeats renew it. The owner token
// is fixed for the run and must match the stored lock before any renewal or
// release.
type ownership struct {
	owner   string
	mu      sync.Mutex
	version int64
	lost    bool
}

func (o *ownership) get() (int64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.version, o.lost
}

func (c *Coordinator) run(ctx context.Context, key string, job Job, jobVersion, lockVersion int64, f *flight, work Work) {
	defer c.wg.Done()
	start := c.now()

	runCtx, cancel := context.WithTimeout(services.WithJobID(context.WithoutCancel(ctx), job.ID), c.opts.ExecTimeout)
	defer cancel()
	stop := context.AfterFunc(c.base, cancel)
	defer stop()
	logger := logging.WithContext(runCtx, c.logger)

	own := &ownership{owner: job.Owner, version: lockVersion}
	hbDone := make(chan struct{})
	hbCtx, hbCancel := context.WithCancel(runCtx)
	go func() {
		defer close(hbDone)
		c.heartbeat(hbCtx, logger, key, job.ID, own, cancel)
	}()

	value, err := runWork(runCtx, work)
	hbCancel()
	<-hbDone

	final := job
	final.UpdatedAt = c.now().UTC()
	final.FinishedAt = final.UpdatedAt
	if err == nil {
		raw, merr := json.Marshal(value)
		if merr != nil {
			err = fmt.Errorf("encode result: %w", merr)
		} else {
			final.State = StateCompleted
			final.Result = raw
		}
	}
	if _, lost := own.get(); lost && err != nil {
		err = services.Wrap(services.ErrConflict, "idempotency", "run", "lock lost", err)
	}
	if err != nil {
		final.State = StateFailed
		final.Code = services.Code(err)
		final.Error = err.Error()
	}

	publishCtx, publishCancel := context.WithTimeout(context.WithoutCancel(runCtx), 10*time.Second)
	defer publishCancel()
	published := c.publish(publishCtx, logger, final, jobVersion)
	if version, lost := own.get(); published && !lost {
		c.releaseLock(publishCtx, logger, key, own.owner, version)
	}

	elapsed := c.now().Sub(start)
	c.metrics.JobTransition(string(final.State))
	c.metrics.ObserveJob(string(final.State), usedFallback(value), elapsed)
	if final.State == StateFailed {
		logging.WarnWithContext(logger, "job failed", "job_failed",
			logging.String("code", final.Code),
			logging.Error(err),
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldErrorHint, "submit the same input again to retry"),
			logging.String(logging.FieldImpact, "no result was produced for this input"),
		)
	} else {
		logger.Info("job completed",
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldEventType, "job_completed"),
		)
	}

	c.mu.Lock()
	f.job = final
	f.lost = !published
	if c.flights[key] == f {
		delete(c.flights, key)
	}
	c.mu.Unlock()
	close(f.done)
}

func runWork(ctx context.Context, work Work) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return work(ctx)
}

// fallbackReporter is implemented by results that know whether the
// secondary recognizer produced them.
type fallbackReporter interface {
	FallbackUsed() bool
}

func usedFallback(v any) bool {
	if r, ok := v.(fallbackReporter); ok {
		return r.FallbackUsed()
	}
	return false
}

func (c *Coordinator) heartbeat(ctx context.Context, logger *slog.Logger, key, jobID string, own *ownership, abort context.CancelFunc) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		own.mu.Lock()
		version := own.version
		own.mu.Unlock()

		rec, err := c.heldLock(ctx, key, own.owner, version)
		if err == nil {
			rec, err = c.locks.CompareAndSwap(ctx, lockKey(key), version, rec.Value, c.opts.LockTTL)
		}
		switch {
		case err == nil:
			own.mu.Lock()
			own.version = rec.Version
			own.mu.Unlock()
		case ctx.Err() != nil:
			return
		case errors.Is(err, storage.ErrVersionMismatch), errors.Is(err, storage.ErrNotFound):
			own.mu.Lock()
			own.lost = true
			own.mu.Unlock()
			logging.WarnWithContext(logger, "job lock lost", "lock_lost",
				logging.String(logging.FieldJobID, jobID),
				logging.String(logging.FieldErrorHint, "the lock ttl elapsed before the heartbeat renewed it"),
				logging.String(logging.FieldImpact, "this run is abandoned and its result discarded"),
			)
			abort()
			return
		default:
			logger.Warn("lock heartbeat failed", logging.Error(err))
		}
	}
}

func (c *Coordinator) publish(ctx context.Context, logger *slog.Logger, job Job, version int64) bool {
	data, err := json.Marshal(job)
	if err != nil {
		logger.Error("encode job failed", logging.Error(err))
		return false
	}
	if _, err := c.jobs.CompareAndSwap(ctx, jobKey(job.ID), version, data, 0); err != nil {
		logging.WarnWithContext(logger, "job result not published", "job_publish_rejected",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "another owner took over this job"),
			logging.String(logging.FieldImpact, "the other owner's result wins"),
		)
		return false
	}
	return true
}

// heldLock returns the lock record for key if owner still holds it at
// version. A lock taken over by anyone else reports ErrVersionMismatch.
func (c *Coordinator) heldLock(ctx context.Context, key, owner string, version int64) (storage.Record, error) {
	rec, err := c.locks.Get(ctx, lockKey(key))
	if err != nil {
		return storage.Record{}, err
	}
	var held lockRecord
	if err := json.Unmarshal(rec.Value, &held); err != nil {
		return storage.Record{}, fmt.Errorf("decode lock: %w", err)
	}
	if held.Owner != owner || rec.Version != version {
		return storage.Record{}, storage.ErrVersionMismatch
	}
	return rec, nil
}

func (c *Coordinator) releaseLock(ctx context.Context, logger *slog.Logger, key, owner string, version int64) {
	_, err := c.heldLock(ctx, key, owner, version)
	if errors.Is(err, storage.ErrVersionMismatch) || errors.Is(err, storage.ErrNotFound) {
		logger.Debug("lock already replaced", logging.Int64("version", version))
		return
	}
	if err != nil {
		logger.Warn("release lock failed", logging.Error(err))
		return
	}
	deleted, err := c.locks.CompareAndDelete(ctx, lockKey(key), version)
	if err != nil {
		logger.Warn("release lock failed", logging.Error(err))
		return
	}
	if !deleted {
		logger.Debug("lock already replaced", logging.Int64("version", version))
	}
}

func (c *Coordinator) join(key, jobID string) *Handle {
	c.mu.Lock()
	f := c.flights[key]
	c.mu.Unlock()
	return &Handle{JobID: jobID, Key: key, Role: RoleJoiner, c: c, flight: f}
}

// Wait blocks until the job reaches a terminal state. Joiners give up after
// the join timeout and receive a still-processing job with
// ErrStillProcessing. A failed job is returned without error; inspect
// Job.State.
func (h *Handle) Wait(ctx context.Context) (Job, error) {
	switch h.Role {
	case RoleReused:
		return h.job, nil
	case RoleOwner:
		select {
		case <-h.flight.done:
			if !h.flight.lost {
				return h.flight.job, nil
			}
			return h.c.poll(ctx, h.Key, h.JobID)
		case <-ctx.Done():
			return Job{}, ctx.Err()
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, h.c.opts.JoinTimeout)
	defer cancel()
	if h.flight != nil {
		select {
		case <-h.flight.done:
			if !h.flight.lost {
				return h.flight.job, nil
			}
		case <-waitCtx.Done():
			return h.c.timedOut(ctx, h.Key, h.JobID)
		}
	}
	job, err := h.c.poll(waitCtx, h.Key, h.JobID)
	if err != nil && waitCtx.Err() != nil {
		return h.c.timedOut(ctx, h.Key, h.JobID)
	}
	return job, err
}

func (c *Coordinator) timedOut(ctx context.Context, key, jobID string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	return Job{ID: jobID, Key: key, State: StateProcessing},
		services.Wrap(services.ErrStillProcessing, "idempotency", "wait", fmt.Sprintf("job %s", jobID), nil)
}

func (c *Coordinator) poll(ctx context.Context, key, jobID string) (Job, error) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		job, err := c.jobByID(ctx, jobID)
		if err == nil && job.State.Terminal() {
			return job, nil
		}
		if err != nil && !errors.Is(err, services.ErrNotFound) {
			return Job{}, err
		}
		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Status returns the current record of a job.
func (c *Coordinator) Status(ctx context.Context, jobID string) (Job, error) {
	return c.jobByID(ctx, jobID)
}

// Lookup returns the latest job recorded for key.
func (c *Coordinator) Lookup(ctx context.Context, key string) (Job, error) {
	job, ok, err := c.jobByKey(ctx, key)
	if err != nil {
		return Job{}, err
	}
	if !ok {
		return Job{}, services.Wrap(services.ErrNotFound, "idempotency", "lookup", fmt.Sprintf("no job for key %s", key), nil)
	}
	return job, nil
}

func (c *Coordinator) completedJob(ctx context.Context, key string) (Job, bool, error) {
	job, ok, err := c.jobByKey(ctx, key)
	if err != nil || !ok {
		return Job{}, false, err
	}
	return job, job.State == StateCompleted, nil
}

func (c *Coordinator) jobByKey(ctx context.Context, key string) (Job, bool, error) {
	rec, err := c.jobs.Get(ctx, indexKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, services.Wrap(services.ErrTransient, "idempotency", "read job index", "", err)
	}
	job, err := c.jobByID(ctx, string(rec.Value))
	if errors.Is(err, services.ErrNotFound) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	return job, true, nil
}

func (c *Coordinator) jobByID(ctx context.Context, id string) (Job, error) {
	rec, err := c.jobs.Get(ctx, jobKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return Job{}, services.Wrap(services.ErrNotFound, "idempotency", "status", fmt.Sprintf("job %s", id), nil)
	}
	if err != nil {
		return Job{}, services.Wrap(services.ErrTransient, "idempotency", "read job", "", err)
	}
	var job Job
	if err := json.Unmarshal(rec.Value, &job); err != nil {
		return Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}

func (c *Coordinator) writeJob(ctx context.Context, job Job) (storage.Record, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return storage.Record{}, fmt.Errorf("encode job: %w", err)
	}
	rec, err := c.jobs.Put(ctx, jobKey(job.ID), data, 0)
	if err != nil {
		return storage.Record{}, services.Wrap(services.ErrTransient, "idempotency", "write job", "", err)
	}
	return rec, nil
}
