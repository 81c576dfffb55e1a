package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"decklens/internal/breaker"
	"decklens/internal/catalog"
	"decklens/internal/confidence"
	"decklens/internal/config"
	"decklens/internal/idempotency"
	"decklens/internal/logging"
	"decklens/internal/metrics"
	"decklens/internal/pipeline"
	"decklens/internal/ratelimit"
	"decklens/internal/recognize"
	"decklens/internal/resolve"
	"decklens/internal/retention"
	"decklens/internal/services"
	"decklens/internal/storage"
)

// Service owns the runtime components built from configuration.
type Service struct {
	cfg          *config.Config
	logger       *slog.Logger
	registry     *prometheus.Registry
	metrics      *metrics.Metrics
	backend      storage.Backend
	ownsBackend  bool
	index        *catalog.Index
	limiter      *ratelimit.Limiter
	resolver     *resolve.Resolver
	breakers     *breaker.Set
	orchestrator *pipeline.Orchestrator
	coordinator  *idempotency.Coordinator
	retention    *retention.Scheduler
	now          func() time.Time

	stop context.CancelFunc
	done chan struct{}
}

// Option customizes Service construction.
type Option func(*buildOptions)

type buildOptions struct {
	logger   *slog.Logger
	backend  storage.Backend
	registry *prometheus.Registry
	primary  recognize.Recognizer
	fallback recognize.Recognizer
	lookup   catalog.Lookup
	index    *catalog.Index
	clock    func() time.Time
}

// WithLogger attaches a logger to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithBackend uses backend instead of opening the configured one. The caller
// keeps ownership and closes it.
func WithBackend(backend storage.Backend) Option {
	return func(o *buildOptions) { o.backend = backend }
}

// WithRegistry registers collectors on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *buildOptions) { o.registry = reg }
}

// WithRecognizers replaces the configured recognition commands. fallback may
// be nil to disable the secondary recognizer.
func WithRecognizers(primary, fallback recognize.Recognizer) Option {
	return func(o *buildOptions) {
		o.primary = primary
		o.fallback = fallback
	}
}

// WithLookup replaces the remote catalog client.
func WithLookup(lookup catalog.Lookup) Option {
	return func(o *buildOptions) { o.lookup = lookup }
}

// WithIndex replaces the catalog file.
func WithIndex(idx *catalog.Index) Option {
	return func(o *buildOptions) { o.index = idx }
}

// WithClock overrides the time source used by breakers and retention.
func WithClock(now func() time.Time) Option {
	return func(o *buildOptions) {
		if now != nil {
			o.clock = now
		}
	}
}

// New builds a Service from cfg. Configuration and reference-data problems
// surface here, wrapped in services.ErrConfiguration.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "api", "new", "config required", nil)
	}
	o := buildOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}
	logger := o.logger
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Service{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "service"),
		registry: o.registry,
		metrics:  metrics.New(o.registry, cfg.Metrics.Namespace),
		backend:  o.backend,
		now:      o.clock,
	}
	if s.backend == nil {
		backend, err := storage.Open(ctx, cfg, storage.WithClock(o.clock))
		if err != nil {
			return nil, err
		}
		s.backend = backend
		s.ownsBackend = true
	}

	if err := s.buildResolver(logger, o); err != nil {
		s.closeBackend()
		return nil, err
	}
	if err := s.buildPipeline(logger, o); err != nil {
		s.closeBackend()
		return nil, err
	}

	s.coordinator = idempotency.New(s.backend, idempotency.OptionsFrom(cfg.Idempotency, cfg.Retention),
		idempotency.WithLogger(logger),
		idempotency.WithMetrics(s.metrics),
		idempotency.WithClock(o.clock),
	)
	s.retention = retention.New(s.backend, retention.PolicyFrom(cfg.Retention),
		retention.WithPageSize(cfg.Retention.ScanPageSize),
		retention.WithClock(o.clock),
		retention.WithLogger(logger),
		retention.WithMetrics(s.metrics),
		retention.WithLogFiles(retention.LogFilesFrom(cfg)),
	)

	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	s.stop = stop
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.limiter.Run(runCtx, max(cfg.RateLimit.Window(), time.Second))
	}()
	return s, nil
}

func (s *Service) buildResolver(logger *slog.Logger, o buildOptions) error {
	cfg := s.cfg
	idx := o.index
	if idx == nil {
		loaded, err := catalog.LoadIndex(cfg.Paths.CatalogFile)
		if err != nil {
			return services.Wrap(services.ErrConfiguration, "api", "load catalog", cfg.Paths.CatalogFile, err)
		}
		idx = loaded
	}
	s.index = idx

	var aliases catalog.Aliases
	if strings.TrimSpace(cfg.Paths.AliasFile) != "" {
		loaded, err := catalog.LoadAliases(cfg.Paths.AliasFile)
		if err != nil {
			return services.Wrap(services.ErrConfiguration, "api", "load aliases", cfg.Paths.AliasFile, err)
		}
		aliases = loaded
	}

	lookup := o.lookup
	if lookup == nil && cfg.Catalog.Enabled {
		client, err := catalog.NewFromConfig(cfg.Catalog)
		if err != nil {
			return err
		}
		lookup = client
	}

	s.limiter = ratelimit.FromConfig(cfg.RateLimit,
		ratelimit.WithClock(o.clock),
		ratelimit.WithLogger(logger),
		ratelimit.WithDenyHook(s.metrics.RateLimited),
	)
	options := []resolve.Option{
		resolve.WithCatalog(idx),
		resolve.WithAliases(aliases),
		resolve.WithRateLimiter(s.limiter),
		resolve.WithCache(s.backend.Bucket(storage.ClassResolution)),
		resolve.WithMetrics(s.metrics),
		resolve.WithLogger(logger),
		resolve.WithClock(o.clock),
	}
	if lookup != nil {
		options = append(options, resolve.WithLookup(lookup))
	}
	s.resolver = resolve.New(resolve.OptionsFrom(cfg.Resolution), options...)
	return nil
}

func (s *Service) buildPipeline(logger *slog.Logger, o buildOptions) error {
	cfg := s.cfg
	policy, err := confidence.NewPolicy(cfg.Confidence.Bands)
	if err != nil {
		return err
	}

	primary, fallback := o.primary, o.fallback
	if primary == nil {
		cmd, err := recognize.NewCommand(cfg.Recognizer.Primary)
		if err != nil {
			return err
		}
		primary = cmd
		if strings.TrimSpace(cfg.Recognizer.Fallback.Command) != "" {
			fb, err := recognize.NewCommand(cfg.Recognizer.Fallback)
			if err != nil {
				return err
			}
			fallback = fb
		}
	}

	s.breakers = breaker.NewSet(breaker.ConfigFrom(cfg.Breaker),
		breaker.WithClock(o.clock),
		breaker.WithLogger(logger),
		breaker.WithObserver(func(t breaker.Transition) {
			s.metrics.BreakerTransition(t.Engine, string(t.From), string(t.To))
		}),
	)

	options := []pipeline.Option{
		pipeline.WithWorkers(cfg.Pipeline.ResolveWorkers),
		pipeline.WithFallbackTimeout(cfg.Pipeline.FallbackTimeoutDuration()),
		pipeline.WithMetrics(s.metrics),
		pipeline.WithLogger(logger),
	}
	if fallback != nil {
		options = append(options, pipeline.WithFallback(fallback, s.breakers.Get(fallback.Name())))
	}
	s.orchestrator, err = pipeline.New(primary, policy, s.resolver, options...)
	return err
}

// Close stops background work and releases the backend when the service
// opened it.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	s.stop()
	<-s.done
	s.coordinator.Close()
	return s.closeBackend()
}

func (s *Service) closeBackend() error {
	if s.ownsBackend && s.backend != nil {
		return s.backend.Close()
	}
	return nil
}

// Registry exposes the collectors for scraping or inspection.
func (s *Service) Registry() *prometheus.Registry { return s.registry }

// SnapshotID identifies the catalog data the resolver was seeded with.
func (s *Service) SnapshotID() string { return s.index.SnapshotID() }

// resultConfig is the part of the configuration that can change a job's
// output. It feeds the job key.
type resultConfig struct {
	Bands      map[string]config.Band `json:"bands"`
	Resolution config.Resolution      `json:"resolution"`
	Primary    config.Engine          `json:"primary"`
	Fallback   config.Engine          `json:"fallback"`
}

// submissionParams are the per-request inputs besides the image that change
// what the pipeline produces.
type submissionParams struct {
	Variants []variantDigest   `json:"variants"`
	Class    confidence.Class `json:"class,omitempty"`
	Width    int              `json:"width,omitempty"`
	Height   int              `json:"height,omitempty"`
}

type variantDigest struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
}

func paramsFor(in pipeline.Input) submissionParams {
	params := submissionParams{Class: in.Class, Width: in.Width, Height: in.Height, Variants: []variantDigest{}}
	// The first variant is the original image, already keyed by content.
	for _, v := range in.Variants[1:] {
		sum := sha256.Sum256(v.Data)
		params.Variants = append(params.Variants, variantDigest{Name: v.Name, SHA256: hex.EncodeToString(sum[:])})
	}
	return params
}

func (s *Service) request(req ScanRequest, in pipeline.Input) idempotency.Request {
	return idempotency.Request{
		Content:         req.Image,
		PipelineVersion: s.cfg.Pipeline.Version,
		Config: resultConfig{
			Bands:      s.cfg.Confidence.Bands,
			Resolution: s.cfg.Resolution,
			Primary:    s.cfg.Recognizer.Primary,
			Fallback:   s.cfg.Recognizer.Fallback,
		},
		Snapshot: s.index.SnapshotID(),
		Params:   paramsFor(in),
	}
}

func input(req ScanRequest) (pipeline.Input, error) {
	in := pipeline.Input{Width: req.Width, Height: req.Height}
	if class := strings.TrimSpace(req.Class); class != "" {
		parsed, ok := confidence.ParseClass(class)
		if !ok {
			return in, services.Wrap(services.ErrConfiguration, "api", "submit", fmt.Sprintf("unknown resolution class %q", class), nil)
		}
		in.Class = parsed
	}
	in.Variants = append(in.Variants, recognize.Variant{Name: "original", Data: req.Image})
	for i, v := range req.Variants {
		name := v.Name
		if name == "" {
			name = fmt.Sprintf("variant-%d", i+1)
		}
		in.Variants = append(in.Variants, recognize.Variant{Name: name, Data: v.Data})
	}
	return in, nil
}

// SubmitJob submits a scan. Identical submissions share one execution.
func (s *Service) SubmitJob(ctx context.Context, req ScanRequest) (Submission, *idempotency.Handle, error) {
	if len(req.Image) == 0 {
		return Submission{}, nil, services.Wrap(services.ErrRecognition, "api", "submit", "image is empty", nil)
	}
	in, err := input(req)
	if err != nil {
		return Submission{}, nil, err
	}
	handle, err := s.coordinator.Submit(ctx, s.request(req, in), func(ctx context.Context) (any, error) {
		return s.orchestrator.Run(ctx, in)
	})
	if err != nil {
		return Submission{}, nil, err
	}
	return Submission{JobID: handle.JobID, Key: handle.Key, Role: string(handle.Role)}, handle, nil
}

// WaitJob waits on a handle returned by SubmitJob. A joiner that outlasts the
// join timeout receives a still-processing view and ErrStillProcessing.
func (s *Service) WaitJob(ctx context.Context, handle *idempotency.Handle) (JobView, error) {
	if handle == nil {
		return JobView{}, services.Wrap(services.ErrNotFound, "api", "wait", "no job handle", nil)
	}
	job, err := handle.Wait(ctx)
	if err != nil {
		if errors.Is(err, services.ErrStillProcessing) {
			return JobView{ID: job.ID, Key: job.Key, State: string(job.State)}, err
		}
		return JobView{}, err
	}
	return FromJob(job)
}

// Scan submits req and waits for its result.
func (s *Service) Scan(ctx context.Context, req ScanRequest) (JobView, error) {
	_, handle, err := s.SubmitJob(ctx, req)
	if err != nil {
		return JobView{}, err
	}
	return s.WaitJob(ctx, handle)
}

// JobStatus returns the stored state of a job.
func (s *Service) JobStatus(ctx context.Context, jobID string) (JobView, error) {
	job, err := s.coordinator.Status(ctx, strings.TrimSpace(jobID))
	if err != nil {
		return JobView{}, err
	}
	return FromJob(job)
}

// ResolveToken maps one raw card name through the resolution tiers.
func (s *Service) ResolveToken(ctx context.Context, token string) (resolve.Resolution, error) {
	return s.resolver.Resolve(ctx, token)
}

// SweepRetention runs one retention sweep.
func (s *Service) SweepRetention(ctx context.Context, dryRun bool) (retention.Report, error) {
	return s.retention.Sweep(ctx, s.now(), dryRun)
}

// RunRetention sweeps on the configured interval until ctx is done.
func (s *Service) RunRetention(ctx context.Context) error {
	return s.retention.Run(ctx, s.cfg.Retention.Interval())
}

// BreakerState returns a snapshot of every fallback breaker.
func (s *Service) BreakerState() []breaker.Snapshot {
	snaps := s.breakers.Snapshots()
	for _, snap := range snaps {
		s.metrics.SetBreakerAdjustment(snap.Engine, snap.Adjustment)
	}
	return snaps
}
