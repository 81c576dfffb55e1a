package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"decklens/internal/breaker"
	"decklens/internal/confidence"
	"decklens/internal/logging"
	"decklens/internal/metrics"
	"decklens/internal/recognize"
	"decklens/internal/resolve"
	"decklens/internal/services"
)

// Resolver maps a raw token to a catalog entry.
type Resolver interface {
	Resolve(ctx context.Context, raw string) (resolve.Resolution, error)
}

// Input is one job's recognition input.
type Input struct {
	Variants []recognize.Variant
	Width    int
	Height   int
	Class    confidence.Class
}

// Orchestrator wires recognizers, the confidence policy, the fallback breaker
// and the resolver.
type Orchestrator struct {
	primary         recognize.Recognizer
	fallback        recognize.Recognizer
	breaker         *breaker.Breaker
	policy          *confidence.Policy
	resolver        Resolver
	workers         int
	fallbackTimeout time.Duration
	metrics         *metrics.Metrics
	logger          *slog.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithFallback enables the fallback recognizer guarded by b.
func WithFallback(rec recognize.Recognizer, b *breaker.Breaker) Option {
	return func(o *Orchestrator) {
		o.fallback = rec
		o.breaker = b
	}
}

// WithWorkers bounds concurrent token resolution.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithFallbackTimeout bounds a single fallback invocation.
func WithFallbackTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.fallbackTimeout = d }
}

// WithMetrics records recognition and fallback outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New builds an orchestrator.
func New(primary recognize.Recognizer, policy *confidence.Policy, resolver Resolver, opts ...Option) (*Orchestrator, error) {
	if primary == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "new", "primary recognizer required", nil)
	}
	if policy == nil {
		policy = confidence.DefaultPolicy()
	}
	if resolver == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "new", "resolver required", nil)
	}
	o := &Orchestrator{
		primary:  primary,
		policy:   policy,
		resolver: resolver,
		workers:  8,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.NewComponentLogger(o.logger, "pipeline")
	return o, nil
}

// Run recognizes and resolves one input.
func (o *Orchestrator) Run(ctx context.Context, in Input) (Result, error) {
	if len(in.Variants) == 0 {
		return Result{}, services.Wrap(services.ErrRecognition, "pipeline", "run", "no image variants supplied", nil)
	}
	logger := logging.WithContext(ctx, o.logger)
	var result Result

	rec, summary, err := o.recognize(services.WithStage(ctx, "recognize"), logger, in, &result)
	if err != nil {
		return Result{}, err
	}
	result.Recognition = summary
	result.Lines = rec.Texts()

	if err := o.resolveLines(services.WithStage(ctx, "resolve"), logger, ParseDeck(result.Lines), &result); err != nil {
		return Result{}, err
	}
	result.Partial = len(result.Unresolved) > 0
	return result, nil
}

func (o *Orchestrator) classify(logger *slog.Logger, in Input, result *Result) confidence.Class {
	if in.Class != "" {
		return in.Class
	}
	w, h := in.Width, in.Height
	if w <= 0 || h <= 0 {
		var err error
		w, h, err = recognize.Dimensions(in.Variants[0].Data)
		if err != nil {
			result.Warnings = append(result.Warnings, "image size unknown, using the sd confidence band")
			logging.WarnWithContext(logger, "could not read image dimensions", "image_dimensions_unknown",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "pass width and height or a resolution class"),
				logging.String(logging.FieldImpact, "the strictest line-count band applies"),
			)
			return confidence.ClassSD
		}
	}
	return confidence.Classify(w, h)
}

func (o *Orchestrator) recognize(ctx context.Context, logger *slog.Logger, in Input, result *Result) (recognize.Recognition, Recognition, error) {
	summary := Recognition{Class: o.classify(logger, in, result)}
	if o.breaker != nil {
		summary.Adjustment = o.breaker.Adjustment()
	}

	var (
		best     recognize.Recognition
		bestIdx  = -1
		lastErr  error
		decision confidence.Decision
	)
	for i, v := range in.Variants {
		if err := ctx.Err(); err != nil {
			return recognize.Recognition{}, summary, err
		}
		summary.VariantsTried++
		rec, err := o.primary.Recognize(ctx, v)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return recognize.Recognition{}, summary, ctxErr
			}
			lastErr = err
			o.metrics.Recognition(o.primary.Name(), "failure")
			result.Warnings = append(result.Warnings, fmt.Sprintf("variant %s failed: %v", v.Name, err))
			logging.WarnWithContext(logger, "recognition variant failed", "variant_failed",
				logging.String("variant", v.Name),
				logging.String("engine", o.primary.Name()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the primary recognizer command"),
				logging.String(logging.FieldImpact, "remaining variants still run"),
			)
			continue
		}
		o.metrics.Recognition(o.primary.Name(), "success")
		if bestIdx < 0 || rec.Better(best) {
			best, bestIdx = rec, i
		}
		decision = o.policy.Evaluate(confidence.Input{MeanConfidence: best.MeanConfidence, LineCount: best.LineCount(), Class: summary.Class}, summary.Adjustment)
		if decision.Accept {
			summary.EarlyStop = i < len(in.Variants)-1
			break
		}
	}
	if o.breaker != nil {
		o.breaker.RecordJob()
	}

	summary.NeedsFallback = bestIdx < 0 || decision.NeedsFallback
	reason := decision.Reason
	if bestIdx < 0 {
		reason = "no variant produced a result"
	}
	logger.Info("recognition decision",
		logging.Args(append(logging.DecisionAttrs("fallback", fmt.Sprintf("%t", summary.NeedsFallback), reason),
			logging.Float64("mean_confidence", best.MeanConfidence),
			logging.Int("line_count", best.LineCount()),
			logging.String("resolution_class", string(summary.Class)),
			logging.Float64("effective_fallback", decision.EffectiveFallback),
		)...)...,
	)

	final := best
	if summary.NeedsFallback {
		target := in.Variants[0]
		if bestIdx >= 0 {
			target = in.Variants[bestIdx]
		}
		if rec, ok := o.runFallback(ctx, logger, target, &summary, result); ok {
			final = rec
			summary.UsedFallback = true
			bestIdx = 0
		}
	}
	if err := ctx.Err(); err != nil {
		return recognize.Recognition{}, summary, err
	}
	if bestIdx < 0 {
		return recognize.Recognition{}, summary, services.Wrap(services.ErrRecognition, "pipeline", "recognize", "all variants failed", lastErr)
	}

	summary.Engine = final.Engine
	summary.Variant = final.Variant
	summary.MeanConfidence = final.MeanConfidence
	summary.LineCount = final.LineCount()
	return final, summary, nil
}

func (o *Orchestrator) runFallback(ctx context.Context, logger *slog.Logger, v recognize.Variant, summary *Recognition, result *Result) (recognize.Recognition, bool) {
	if o.fallback == nil {
		summary.FallbackSkipped = "no fallback recognizer configured"
		return recognize.Recognition{}, false
	}
	engine := o.fallback.Name()
	if o.breaker != nil && !o.breaker.AllowFallback() {
		summary.FallbackSkipped = "fallback breaker " + string(o.breaker.State())
		o.metrics.Fallback(engine, "skipped")
		result.Warnings = append(result.Warnings, "fallback recognizer skipped: breaker "+string(o.breaker.State()))
		logger.Info("fallback skipped",
			logging.Args(append(logging.DecisionAttrs("fallback_gate", "skipped", "breaker "+string(o.breaker.State())),
				logging.String("engine", engine),
			)...)...,
		)
		return recognize.Recognition{}, false
	}

	callCtx := ctx
	if o.fallbackTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.fallbackTimeout)
		defer cancel()
	}
	rec, err := o.fallback.Recognize(callCtx, v)
	if err != nil && ctx.Err() != nil {
		// The job itself was canceled; the engine is not at fault.
		if o.breaker != nil {
			o.breaker.Abandon()
		}
		return recognize.Recognition{}, false
	}
	if o.breaker != nil {
		o.breaker.RecordFallback(err == nil)
	}
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = services.Wrap(services.ErrTimeout, "pipeline", "fallback", fmt.Sprintf("exceeded %s", o.fallbackTimeout), err)
		}
		o.metrics.Fallback(engine, "failure")
		result.Warnings = append(result.Warnings, fmt.Sprintf("fallback recognizer failed: %v", err))
		logging.WarnWithContext(logger, "fallback recognizer failed", "fallback_failed",
			logging.String("engine", engine),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the fallback recognizer command"),
			logging.String(logging.FieldImpact, "primary recognition result is used"),
		)
		return recognize.Recognition{}, false
	}
	o.metrics.Fallback(engine, "success")
	if rec.Engine == "" {
		rec.Engine = engine
	}
	if rec.Variant == "" {
		rec.Variant = v.Name
	}
	return rec, true
}

type tokenKey struct {
	section string
	name    string
}

func (o *Orchestrator) resolveLines(ctx context.Context, logger *slog.Logger, lines []DeckLine, result *Result) error {
	distinct := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.Name]; ok {
			continue
		}
		seen[l.Name] = struct{}{}
		distinct = append(distinct, l.Name)
	}

	var mu sync.Mutex
	resolutions := make(map[string]resolve.Resolution, len(distinct))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(o.workers)
	for _, name := range distinct {
		group.Go(func() error {
			res, err := o.resolver.Resolve(gctx, name)
			if err != nil && !res.Resolved() && res.Reason == "" {
				res.Reason = err.Error()
			}
			if ctxErr := gctx.Err(); ctxErr != nil {
				return ctxErr
			}
			mu.Lock()
			resolutions[name] = res
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	cards := make(map[tokenKey]int)
	unresolved := make(map[tokenKey]int)
	for _, l := range lines {
		res := resolutions[l.Name]
		if res.Resolved() {
			key := tokenKey{l.Section, res.Name}
			if pos, ok := cards[key]; ok {
				c := &result.Cards[pos]
				c.Quantity += l.Quantity
				if !containsString(c.Tokens, l.Name) {
					c.Tokens = append(c.Tokens, l.Name)
				}
				continue
			}
			cards[key] = len(result.Cards)
			result.Cards = append(result.Cards, Card{
				Section:  l.Section,
				Quantity: l.Quantity,
				Name:     res.Name,
				EntryID:  res.Entry.ID,
				Score:    res.Score,
				Tier:     res.Tier,
				Tokens:   []string{l.Name},
			})
			continue
		}
		key := tokenKey{l.Section, l.Name}
		if pos, ok := unresolved[key]; ok {
			result.Unresolved[pos].Quantity += l.Quantity
			continue
		}
		unresolved[key] = len(result.Unresolved)
		status := res.Status
		if status == "" {
			status = resolve.StatusUnresolved
		}
		result.Unresolved = append(result.Unresolved, Unresolved{
			Section:    l.Section,
			Quantity:   l.Quantity,
			Token:      l.Name,
			Status:     status,
			Reason:     res.Reason,
			Candidates: res.Candidates,
		})
	}
	if len(result.Unresolved) > 0 {
		logger.Info("resolution finished with unresolved tokens",
			logging.Int("resolved", len(result.Cards)),
			logging.Int("unresolved", len(result.Unresolved)),
			logging.String(logging.FieldEventType, "resolution_partial"),
		)
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
