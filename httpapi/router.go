package httpapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/go-webhook-gateway/core"
)

const DefaultWebhookPath = "/webhooks/linear"

type WebhookProcessor interface {
	Process(ctx context.Context, req core.InboundRequest) (core.Acknowledgment, error)
}

// DeliveryLister is implemented by ledgers that can page through records.
type DeliveryLister interface {
	List(ctx context.Context, status core.ProcessingStatus, limit int) ([]core.ProcessingRecord, error)
}

type TeamIssuesFunc func(ctx context.Context, teamID string) ([]core.LinearIssue, error)

type Options struct {
	WebhookPath  string
	MaxBodyBytes int64
	Processor    WebhookProcessor
	Ledger       core.Ledger
	Lister       DeliveryLister
	TeamIssues   TeamIssuesFunc
	Observer     *core.Observer
	Now          core.Clock
}

type App struct {
	processor    WebhookProcessor
	ledger       core.Ledger
	lister       DeliveryLister
	teamIssues   TeamIssuesFunc
	maxBodyBytes int64
	observer     *core.Observer
	now          core.Clock
}

// NewRouter mounts the webhook receiver and the read-only endpoints.
func NewRouter(opts Options) (chi.Router, error) {
	if opts.Processor == nil {
		return nil, fmt.Errorf("httpapi: webhook processor is required")
	}
	path := strings.TrimSpace(opts.WebhookPath)
	if path == "" {
		path = DefaultWebhookPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	app := &App{
		processor:    opts.Processor,
		ledger:       opts.Ledger,
		lister:       opts.Lister,
		teamIssues:   opts.TeamIssues,
		maxBodyBytes: opts.MaxBodyBytes,
		observer:     opts.Observer,
		now:          opts.Now,
	}
	if app.maxBodyBytes <= 0 {
		app.maxBodyBytes = core.DefaultMaxBodyBytes
	}
	if app.now == nil {
		app.now = core.SystemClock
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(app.observer))
	r.Use(middleware.Recoverer)
	RegisterRoutes(r, path, app)
	return r, nil
}

func RegisterRoutes(r chi.Router, webhookPath string, app *App) {
	r.Get("/health", app.health)
	r.Post(webhookPath, app.receiveWebhook)
	if app.ledger != nil {
		r.Get("/deliveries/{deliveryID}", app.getDelivery)
	}
	if app.lister != nil {
		r.Get("/deliveries", app.listDeliveries)
	}
	if app.teamIssues != nil {
		r.Get("/teams/{teamID}/issues", app.listTeamIssues)
	}
}
