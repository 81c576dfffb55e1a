package breaker

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"decklens/internal/config"
	"decklens/internal/logging"
)

// State is the hard state of a breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config tunes one breaker.
type Config struct {
	Window            time.Duration
	Buckets           int
	RateCeiling       float64
	MinWindowJobs     int
	AdjustmentStep    float64
	MaxAdjustment     float64
	FailureThreshold  int
	Cooldown          time.Duration
	BackoffMultiplier float64
	MaxCooldown       time.Duration
}

// ConfigFrom converts the TOML section into breaker settings.
func ConfigFrom(b config.Breaker) Config {
	return Config{
		Window:            b.Window(),
		Buckets:           b.Buckets,
		RateCeiling:       b.RateCeiling,
		MinWindowJobs:     b.MinWindowJobs,
		AdjustmentStep:    b.AdjustmentStep,
		MaxAdjustment:     b.MaxAdjustment,
		FailureThreshold:  b.FailureThreshold,
		Cooldown:          b.Cooldown(),
		BackoffMultiplier: b.BackoffMultiplier,
		MaxCooldown:       b.MaxCooldown(),
	}
}

// Transition describes a hard state change.
type Transition struct {
	Engine   string
	From     State
	To       State
	At       time.Time
	Reason   string
	Cooldown time.Duration
}

// Observer receives transitions after the breaker lock is released. It must
// not block.
type Observer func(Transition)

// Snapshot is a diagnostic view of a breaker.
type Snapshot struct {
	Engine              string        `json:"engine"`
	State               State         `json:"state"`
	Jobs                int           `json:"jobs"`
	Fallbacks           int           `json:"fallbacks"`
	Failures            int           `json:"failures"`
	FallbackRate        float64       `json:"fallback_rate"`
	Adjustment          float64       `json:"adjustment"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Cooldown            time.Duration `json:"cooldown"`
	OpenUntil           time.Time     `json:"open_until,omitzero"`
	WindowStart         time.Time     `json:"window_start"`
}

type bucket struct {
	slot      int64
	jobs      int
	fallbacks int
	failures  int
}

// Breaker guards one fallback engine. Soft adaptation raises an adjustment
// that the confidence evaluator subtracts from its fallback threshold; the
// hard path opens after consecutive engine failures.
type Breaker struct {
	engine   string
	cfg      Config
	width    time.Duration
	now      func() time.Time
	observer Observer
	logger   *slog.Logger

	mu                  sync.Mutex
	buckets             []bucket
	state               State
	openUntil           time.Time
	cooldown            time.Duration
	consecutiveFailures int
	probeInFlight       bool
	adjustment          float64
	lastAdjustSlot      int64
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithObserver registers a transition observer.
func WithObserver(observer Observer) Option {
	return func(b *Breaker) { b.observer = observer }
}

// WithLogger attaches a logger for transition and adaptation events.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Breaker) { b.logger = logger }
}

// New builds a closed breaker for engine.
func New(engine string, cfg Config, opts ...Option) *Breaker {
	if cfg.Buckets <= 0 {
		cfg.Buckets = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	width := cfg.Window / time.Duration(cfg.Buckets)
	if width <= 0 {
		width = time.Second
	}
	b := &Breaker{
		engine:         engine,
		cfg:            cfg,
		width:          width,
		now:            time.Now,
		buckets:        make([]bucket, cfg.Buckets),
		state:          StateClosed,
		cooldown:       cfg.Cooldown,
		lastAdjustSlot: math.MinInt64,
	}
	for i := range b.buckets {
		b.buckets[i].slot = math.MinInt64
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logging.NewComponentLogger(b.logger, "breaker").With(logging.String("engine", engine))
	return b
}

// Engine returns the guarded engine name.
func (b *Breaker) Engine() string { return b.engine }

func (b *Breaker) slotAt(t time.Time) int64 {
	return t.UnixNano() / int64(b.width)
}

// current returns the bucket for now, resetting it when the ring wrapped.
func (b *Breaker) current(now time.Time) *bucket {
	slot := b.slotAt(now)
	idx := int(((slot % int64(len(b.buckets))) + int64(len(b.buckets))) % int64(len(b.buckets)))
	bk := &b.buckets[idx]
	if bk.slot != slot {
		*bk = bucket{slot: slot}
	}
	return bk
}

func (b *Breaker) totals(now time.Time) (jobs, fallbacks, failures int) {
	slot := b.slotAt(now)
	oldest := slot - int64(len(b.buckets)) + 1
	for _, bk := range b.buckets {
		if bk.slot < oldest || bk.slot > slot {
			continue
		}
		jobs += bk.jobs
		fallbacks += bk.fallbacks
		failures += bk.failures
	}
	return jobs, fallbacks, failures
}

// RecordJob counts one completed recognition job in the window.
func (b *Breaker) RecordJob() {
	now := b.now()
	b.mu.Lock()
	b.current(now).jobs++
	adapted := b.adapt(now)
	b.mu.Unlock()
	b.logAdapt(adapted)
}

// AllowFallback reports whether the fallback engine may run now. In the
// half-open state exactly one probe is admitted until its outcome is recorded.
func (b *Breaker) AllowFallback() bool {
	now := b.now()
	var transitions []Transition
	b.mu.Lock()
	allowed := false
	switch b.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if !now.Before(b.openUntil) {
			transitions = append(transitions, b.transition(now, StateHalfOpen, "cooldown elapsed"))
			b.probeInFlight = true
			allowed = true
		}
	case StateHalfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			allowed = true
		}
	}
	b.mu.Unlock()
	b.emit(transitions)
	return allowed
}

// RecordFallback records the outcome of one fallback invocation.
func (b *Breaker) RecordFallback(success bool) {
	now := b.now()
	var transitions []Transition
	b.mu.Lock()
	bk := b.current(now)
	bk.fallbacks++
	if !success {
		bk.failures++
	}

	switch b.state {
	case StateHalfOpen:
		b.probeInFlight = false
		if success {
			b.consecutiveFailures = 0
			b.cooldown = b.cfg.Cooldown
			transitions = append(transitions, b.transition(now, StateClosed, "probe succeeded"))
		} else {
			b.cooldown = b.nextCooldown()
			b.openUntil = now.Add(b.cooldown)
			transitions = append(transitions, b.transition(now, StateOpen, "probe failed"))
		}
	case StateClosed:
		if success {
			b.consecutiveFailures = 0
		} else {
			b.consecutiveFailures++
			if b.consecutiveFailures >= b.cfg.FailureThreshold {
				b.openUntil = now.Add(b.cooldown)
				transitions = append(transitions, b.transition(now, StateOpen, "consecutive failures"))
			}
		}
	case StateOpen:
		// Outcome of a call admitted before the breaker opened.
		if !success {
			b.consecutiveFailures++
		}
	}
	adapted := b.adapt(now)
	b.mu.Unlock()
	b.logAdapt(adapted)
	b.emit(transitions)
}

// Abandon releases an admitted fallback call that ended without an outcome,
// such as when the job was canceled mid-call. Nothing is counted. A
// half-open probe goes back to open with its original deadline so the next
// caller may probe again.
func (b *Breaker) Abandon() {
	now := b.now()
	var transitions []Transition
	b.mu.Lock()
	if b.state == StateHalfOpen && b.probeInFlight {
		b.probeInFlight = false
		transitions = append(transitions, b.transition(now, StateOpen, "probe abandoned"))
	}
	b.mu.Unlock()
	b.emit(transitions)
}

// Adjustment returns the current soft adaptation applied to the fallback
// threshold, decaying it first if the window has cooled.
func (b *Breaker) Adjustment() float64 {
	now := b.now()
	b.mu.Lock()
	adapted := b.adapt(now)
	adjustment := b.adjustment
	b.mu.Unlock()
	b.logAdapt(adapted)
	return adjustment
}

// State returns the hard state. Only AllowFallback promotes open to half-open,
// so reads never admit a probe.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a consistent diagnostic view.
func (b *Breaker) Snapshot() Snapshot {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	jobs, fallbacks, failures := b.totals(now)
	snap := Snapshot{
		Engine:              b.engine,
		State:               b.state,
		Jobs:                jobs,
		Fallbacks:           fallbacks,
		Failures:            failures,
		Adjustment:          b.adjustment,
		ConsecutiveFailures: b.consecutiveFailures,
		Cooldown:            b.cooldown,
		WindowStart:         now.Add(-b.cfg.Window),
	}
	if jobs > 0 {
		snap.FallbackRate = float64(fallbacks) / float64(jobs)
	}
	if b.state == StateOpen {
		snap.OpenUntil = b.openUntil
	}
	return snap
}

type adaptEvent struct {
	rate       float64
	jobs       int
	adjustment float64
}

// adapt moves the soft adjustment at most one step per bucket interval: up
// while the windowed fallback rate exceeds the ceiling, down once it does not.
func (b *Breaker) adapt(now time.Time) *adaptEvent {
	slot := b.slotAt(now)
	if slot == b.lastAdjustSlot {
		return nil
	}
	jobs, fallbacks, _ := b.totals(now)
	rate := 0.0
	if jobs > 0 {
		rate = float64(fallbacks) / float64(jobs)
	}
	prev := b.adjustment
	if jobs > 0 && jobs >= b.cfg.MinWindowJobs && rate > b.cfg.RateCeiling {
		b.adjustment = math.Min(b.adjustment+b.cfg.AdjustmentStep, b.cfg.MaxAdjustment)
	} else {
		b.adjustment = math.Max(b.adjustment-b.cfg.AdjustmentStep, 0)
	}
	if b.adjustment == prev {
		return nil
	}
	b.lastAdjustSlot = slot
	return &adaptEvent{rate: rate, jobs: jobs, adjustment: b.adjustment}
}

func (b *Breaker) logAdapt(ev *adaptEvent) {
	if ev == nil {
		return
	}
	b.logger.Info("fallback threshold adapted",
		logging.Float64("fallback_rate", ev.rate),
		logging.Float64("rate_ceiling", b.cfg.RateCeiling),
		logging.Int("window_jobs", ev.jobs),
		logging.Float64("adjustment", ev.adjustment),
		logging.String(logging.FieldEventType, "breaker_soft_adapt"),
	)
}

func (b *Breaker) nextCooldown() time.Duration {
	next := time.Duration(float64(b.cooldown) * b.cfg.BackoffMultiplier)
	if b.cfg.MaxCooldown > 0 && next > b.cfg.MaxCooldown {
		next = b.cfg.MaxCooldown
	}
	if next <= 0 {
		next = b.cfg.Cooldown
	}
	return next
}

func (b *Breaker) transition(now time.Time, to State, reason string) Transition {
	t := Transition{Engine: b.engine, From: b.state, To: to, At: now, Reason: reason, Cooldown: b.cooldown}
	b.state = to
	return t
}

func (b *Breaker) emit(transitions []Transition) {
	for _, t := range transitions {
		attrs := []logging.Attr{
			logging.String("from", string(t.From)),
			logging.String("to", string(t.To)),
			logging.String("reason", t.Reason),
			logging.Duration("cooldown", t.Cooldown),
		}
		if t.To == StateOpen {
			logging.WarnWithContext(b.logger, "fallback engine breaker opened", "breaker_opened",
				append(attrs,
					logging.String(logging.FieldErrorHint, "check the fallback recognizer command and its logs"),
					logging.String(logging.FieldImpact, "low-confidence jobs use primary results until the breaker closes"),
				)...,
			)
		} else {
			attrs = append(attrs, logging.String(logging.FieldEventType, "breaker_transition"))
			b.logger.Info("fallback engine breaker transition", logging.Args(attrs...)...)
		}
		if b.observer != nil {
			b.observer(t)
		}
	}
}
