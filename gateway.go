package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-webhook-gateway/agent"
	"github.com/goliatone/go-webhook-gateway/command"
	"github.com/goliatone/go-webhook-gateway/core"
	"github.com/goliatone/go-webhook-gateway/httpapi"
	"github.com/goliatone/go-webhook-gateway/inbound"
	"github.com/goliatone/go-webhook-gateway/webhooks"
)

type Config = core.Config

type Ledger = core.Ledger

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// Gateway is the assembled receiver: verifier, ledger, dispatcher and the
// HTTP surface over them.
type Gateway struct {
	config     Config
	ledger     core.Ledger
	dispatcher *inbound.EventDispatcher
	processor  *webhooks.Processor
	handler    http.Handler
	observer   *core.Observer
}

type Option func(*options)

type options struct {
	ledger         core.Ledger
	publisher      core.OutcomePublisher
	followUps      core.JobEnqueuer
	replier        command.FollowUpRunner
	teamIssues     httpapi.TeamIssuesFunc
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	now            core.Clock
}

// WithLedger replaces the in-memory ledger.
func WithLedger(ledger core.Ledger) Option {
	return func(o *options) {
		o.ledger = ledger
	}
}

func WithPublisher(publisher core.OutcomePublisher) Option {
	return func(o *options) {
		o.publisher = publisher
	}
}

// WithFollowUps defers auto replies to the given queue when
// agent.enqueue_follow_up is set.
func WithFollowUps(enqueuer core.JobEnqueuer) Option {
	return func(o *options) {
		o.followUps = enqueuer
	}
}

func WithReplier(replier command.FollowUpRunner) Option {
	return func(o *options) {
		o.replier = replier
	}
}

func WithTeamIssues(fn httpapi.TeamIssuesFunc) Option {
	return func(o *options) {
		o.teamIssues = fn
	}
}

func WithLogger(logger core.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(o *options) {
		o.loggerProvider = provider
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

func WithClock(now core.Clock) Option {
	return func(o *options) {
		o.now = now
	}
}

func New(cfg Config, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Webhook.Secret) == "" {
		return nil, fmt.Errorf("gateway: webhook.secret is required")
	}
	resolved := options{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&resolved)
	}
	if resolved.now == nil {
		resolved.now = core.SystemClock
	}

	logger := resolved.logger
	if resolved.loggerProvider != nil && logger == nil {
		logger = resolved.loggerProvider.GetLogger(cfg.ServiceName)
	}
	observer := core.NewObserver(cfg.ServiceName, logger, resolved.metrics)

	ledger := resolved.ledger
	if ledger == nil {
		memory := inbound.NewMemoryLedger(cfg.Webhook.Retention)
		memory.StaleAfter = 2 * handlerTimeout(cfg)
		memory.Now = resolved.now
		ledger = memory
	}

	dispatcher := inbound.NewEventDispatcher(inbound.MustSchemaValidator())
	handlers := agent.NewHandlers(cfg.Agent, resolved.replier, resolved.followUps)
	handlers.Now = resolved.now
	if err := agent.Register(dispatcher, handlers); err != nil {
		return nil, err
	}

	verifier := webhooks.NewHMACVerifier(cfg.Webhook)
	verifier.Now = resolved.now

	processor := webhooks.NewProcessor(verifier, ledger, dispatcher)
	processor.Publisher = resolved.publisher
	processor.ExtractID = webhooks.DefaultDeliveryIDExtractor(cfg.Webhook.DeliveryHeader)
	processor.SignatureHeader = cfg.Webhook.SignatureHeader
	processor.HandlerTimeout = handlerTimeout(cfg)
	processor.Observer = observer
	processor.Now = resolved.now

	routerOpts := httpapi.Options{
		WebhookPath:  cfg.Webhook.Path,
		MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
		Processor:    processor,
		Ledger:       ledger,
		TeamIssues:   resolved.teamIssues,
		Observer:     observer,
		Now:          resolved.now,
	}
	if lister, ok := ledger.(httpapi.DeliveryLister); ok {
		routerOpts.Lister = lister
	}
	router, err := httpapi.NewRouter(routerOpts)
	if err != nil {
		return nil, err
	}

	return &Gateway{
		config:     cfg,
		ledger:     ledger,
		dispatcher: dispatcher,
		processor:  processor,
		handler:    router,
		observer:   observer,
	}, nil
}

func (g *Gateway) Config() Config {
	if g == nil {
		return Config{}
	}
	return g.config
}

func (g *Gateway) Handler() http.Handler {
	if g == nil {
		return nil
	}
	return g.handler
}

func (g *Gateway) Processor() *webhooks.Processor {
	if g == nil {
		return nil
	}
	return g.processor
}

func (g *Gateway) Ledger() core.Ledger {
	if g == nil {
		return nil
	}
	return g.ledger
}

func (g *Gateway) Dispatcher() *inbound.EventDispatcher {
	if g == nil {
		return nil
	}
	return g.dispatcher
}

func (g *Gateway) Observer() *core.Observer {
	if g == nil {
		return nil
	}
	return g.observer
}

// Sweep removes expired terminal records once. Ledgers that expire records
// on their own report zero.
func (g *Gateway) Sweep(ctx context.Context) (int, error) {
	if g == nil {
		return 0, nil
	}
	sweeper, ok := g.ledger.(core.Sweeper)
	if !ok {
		return 0, nil
	}
	startedAt := time.Now()
	removed, err := sweeper.Sweep(ctx)
	g.observer.Operation(ctx, startedAt, "ledger.sweep", err, map[string]any{"removed": removed})
	return removed, err
}

// RunSweeper sweeps on every interval tick until ctx is done.
func (g *Gateway) RunSweeper(ctx context.Context, interval time.Duration) {
	if g == nil || interval <= 0 {
		return
	}
	if _, ok := g.ledger.(core.Sweeper); !ok {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = g.Sweep(ctx)
		}
	}
}

func handlerTimeout(cfg Config) time.Duration {
	if cfg.Webhook.HandlerTimeout > 0 {
		return cfg.Webhook.HandlerTimeout
	}
	return webhooks.DefaultHandlerTimeout
}
