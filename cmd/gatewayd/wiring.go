package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gocmd "github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-webhook-gateway/adapters/gocommand"
	"github.com/goliatone/go-webhook-gateway/adapters/gojob"
	"github.com/goliatone/go-webhook-gateway/agent"
	gwcommand "github.com/goliatone/go-webhook-gateway/command"
	"github.com/goliatone/go-webhook-gateway/core"
	kafkaevents "github.com/goliatone/go-webhook-gateway/events/kafka"
	"github.com/goliatone/go-webhook-gateway/inbound"
	"github.com/goliatone/go-webhook-gateway/query"
	"github.com/goliatone/go-webhook-gateway/ratelimit"
	redisstore "github.com/goliatone/go-webhook-gateway/store/redis"
	sqlstore "github.com/goliatone/go-webhook-gateway/store/sql"
	"github.com/goliatone/go-webhook-gateway/transport"
	"github.com/goliatone/go-webhook-gateway/webhooks"
)

const followUpQueueCapacity = 256

// openLedger selects the storage backend named by ledger.driver. Pending
// records older than twice the handler timeout are treated as abandoned.
func openLedger(ctx context.Context, cfg core.Config) (core.Ledger, func(), error) {
	staleAfter := 2 * cfg.Webhook.HandlerTimeout
	if staleAfter <= 0 {
		staleAfter = 2 * webhooks.DefaultHandlerTimeout
	}
	noop := func() {}

	switch strings.ToLower(strings.TrimSpace(cfg.Ledger.Driver)) {
	case core.LedgerDriverSQLite, core.LedgerDriverPostgres:
		client, err := sqlstore.OpenClient(ctx, cfg.Ledger)
		if err != nil {
			return nil, noop, err
		}
		closeDB := func() { _ = client.DB().Close() }
		ledger, err := sqlstore.NewDeliveryLedgerFromClient(client)
		if err != nil {
			closeDB()
			return nil, noop, err
		}
		ledger.Retention = cfg.Webhook.Retention
		ledger.StaleAfter = staleAfter
		if cfg.Ledger.CacheTTL <= 0 {
			return ledger, closeDB, nil
		}
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = cfg.Ledger.CacheTTL
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			closeDB()
			return nil, noop, fmt.Errorf("ledger cache: %w", err)
		}
		cached, err := sqlstore.NewCachedLedger(ledger, cacheService)
		if err != nil {
			closeDB()
			return nil, noop, err
		}
		return cached, closeDB, nil
	case core.LedgerDriverRedis:
		rdb := redisstore.NewClient(redisstore.OptionsFromConfig(cfg.Ledger))
		closeRedis := func() { _ = rdb.Close() }
		ledger, err := redisstore.NewLedger(rdb, cfg.ServiceName)
		if err != nil {
			closeRedis()
			return nil, noop, err
		}
		ledger.Retention = cfg.Webhook.Retention
		ledger.StaleAfter = staleAfter
		if err := ledger.Ping(ctx); err != nil {
			closeRedis()
			return nil, noop, err
		}
		return ledger, closeRedis, nil
	default:
		ledger := inbound.NewMemoryLedger(cfg.Webhook.Retention)
		ledger.StaleAfter = staleAfter
		return ledger, noop, nil
	}
}

type agentDeps struct {
	bus        *gocommand.Bus
	replier    *agent.Replier
	teamIssues func(ctx context.Context, teamID string) ([]core.LinearIssue, error)
	followUps  core.JobEnqueuer
	worker     *agent.FollowUpWorker
	publisher  *kafkaevents.Publisher
	closers    []func() error
}

func (d *agentDeps) Close() {
	if d == nil {
		return
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i]()
	}
	if d.bus != nil {
		d.bus.Close()
	}
}

// wireAgent registers the Linear and completion collaborators on the command
// bus and builds the optional follow-up queue and outcome publisher.
func wireAgent(ctx context.Context, cfg core.Config, observer *core.Observer) (*agentDeps, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	limiter := ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
	graphql := transport.NewGraphQLAdapter(cfg.Linear.APIURL, cfg.Linear.AccessToken, httpClient)
	graphql.REST = graphql.REST.WithLimiter(limiter)
	linear := agent.NewLinearClient(graphql)
	completion := transport.NewCompletionAdapter(cfg.Completion, httpClient)
	completion.REST = completion.REST.WithLimiter(limiter)
	if strings.TrimSpace(cfg.Linear.AccessToken) == "" {
		observer.Warn(ctx, "linear access token is not set; replies and team queries will fail", nil)
	}

	deps := &agentDeps{replier: agent.NewReplier()}
	deps.bus = gocommand.NewBus(gocommand.NewRegistryAdapter(gocmd.NewRegistry()))
	if err := deps.bus.Registry().AddQueueResolver("queue", jobqueuecommand.NewRegistry()); err != nil {
		deps.Close()
		return nil, err
	}
	registrations := []error{
		gocommand.RegisterCommand(deps.bus, gwcommand.NewPostCommentCommand(linear)),
		gocommand.RegisterCommand(deps.bus, gwcommand.NewRunFollowUpCommand(deps.replier)),
		gocommand.RegisterQuery(deps.bus, query.NewDraftReplyQuery(completion)),
		gocommand.RegisterQuery(deps.bus, query.NewListTeamIssuesQuery(linear)),
	}
	for _, err := range registrations {
		if err != nil {
			deps.Close()
			return nil, err
		}
	}
	if err := deps.bus.Initialize(); err != nil {
		deps.Close()
		return nil, err
	}
	deps.teamIssues = func(ctx context.Context, teamID string) ([]core.LinearIssue, error) {
		return gocommand.Query[query.ListTeamIssuesMessage, []core.LinearIssue](ctx, query.ListTeamIssuesMessage{TeamID: teamID})
	}

	brokers := cfg.Events.KafkaBrokers
	if len(brokers) > 0 && strings.TrimSpace(cfg.Events.KafkaTopic) != "" {
		writer, err := kafkaevents.NewWriter(brokers, cfg.Events.KafkaTopic)
		if err != nil {
			deps.Close()
			return nil, err
		}
		publisher, err := kafkaevents.NewPublisher(writer)
		if err != nil {
			_ = writer.Close()
			deps.Close()
			return nil, err
		}
		deps.publisher = publisher
		deps.closers = append(deps.closers, publisher.Close)
	}

	if !cfg.Agent.AutoReply || !cfg.Agent.EnqueueFollowUp {
		return deps, nil
	}
	policy := gojob.RetryPolicy{
		MaxAttempts:     cfg.Agent.FollowUpMaxAttempts,
		MaxDelay:        cfg.Agent.FollowUpMaxDelay,
		DeadLetterOnMax: true,
	}
	if len(brokers) > 0 && strings.TrimSpace(cfg.Events.JobTopic) != "" {
		jobs, err := openKafkaJobs(cfg, observer)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.closers = append(deps.closers, jobs.Close)
		deps.followUps = gojob.NewEnqueuerAdapter(jobs)
		deps.worker = agent.NewFollowUpWorker(gojob.NewDequeuerAdapter(jobs, policy), observer)
		return deps, nil
	}
	memory := gojob.NewMemoryQueue(followUpQueueCapacity)
	deps.closers = append(deps.closers, memory.Close)
	deps.followUps = gojob.NewEnqueuerAdapter(memory)
	deps.worker = agent.NewFollowUpWorker(gojob.NewDequeuerAdapter(memory, policy), observer)
	return deps, nil
}

func openKafkaJobs(cfg core.Config, observer *core.Observer) (*kafkaevents.JobQueue, error) {
	writer, err := kafkaevents.NewWriter(cfg.Events.KafkaBrokers, cfg.Events.JobTopic)
	if err != nil {
		return nil, err
	}
	reader, err := kafkaevents.NewReader(cfg.Events.KafkaBrokers, cfg.Events.JobTopic, cfg.Events.ConsumerGroup)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}
	dead, err := kafkaevents.NewWriter(cfg.Events.KafkaBrokers, cfg.Events.JobTopic+".dlq")
	if err != nil {
		_ = writer.Close()
		_ = reader.Close()
		return nil, err
	}
	jobs, err := kafkaevents.NewJobQueue(writer, reader)
	if err != nil {
		_ = writer.Close()
		_ = reader.Close()
		_ = dead.Close()
		return nil, err
	}
	jobs.Observer = observer
	return jobs.WithDeadLetter(dead), nil
}
