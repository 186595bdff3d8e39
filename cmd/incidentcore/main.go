// Command incidentcore wires the Incident Pipeline Core's components into
// a runnable process: it loads configuration, builds the Correlator,
// DetectAgent, Rule Matcher, Knowledge Store, Search Service, RCA
// Inferencer, SOP Bridge & Safety, Executor and Orchestrator, registers
// the process-wide action handlers, and serves the pipeline's metrics
// endpoint until interrupted.
//
// This binary is the "wiring" layer only; the HTTP/webhook ingestion,
// chat command parsing and dashboard are external collaborators this
// binary does not implement.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/agenticaiops/incident-core/internal/config"
	"github.com/agenticaiops/incident-core/internal/database"
	"github.com/agenticaiops/incident-core/internal/validation"
	"github.com/agenticaiops/incident-core/pkg/ai/llm"
	"github.com/agenticaiops/incident-core/pkg/audit"
	"github.com/agenticaiops/incident-core/pkg/correlator"
	"github.com/agenticaiops/incident-core/pkg/datastorage/client"
	"github.com/agenticaiops/incident-core/pkg/detectagent"
	"github.com/agenticaiops/incident-core/pkg/executor"
	"github.com/agenticaiops/incident-core/pkg/feedback"
	"github.com/agenticaiops/incident-core/pkg/infrastructure/metrics"
	"github.com/agenticaiops/incident-core/pkg/knowledge"
	"github.com/agenticaiops/incident-core/pkg/notification/delivery"
	"github.com/agenticaiops/incident-core/pkg/orchestrator"
	"github.com/agenticaiops/incident-core/pkg/pipeline/types"
	"github.com/agenticaiops/incident-core/pkg/platform/monitoring"
	"github.com/agenticaiops/incident-core/pkg/remediationapprovalrequest"
	"github.com/agenticaiops/incident-core/pkg/rca"
	"github.com/agenticaiops/incident-core/pkg/rules"
	"github.com/agenticaiops/incident-core/pkg/search"
	"github.com/agenticaiops/incident-core/pkg/sop"
	"github.com/agenticaiops/incident-core/pkg/sop/policy"
	"github.com/agenticaiops/incident-core/pkg/storage/vector"
)

func main() {
	configPath := flag.String("config", "config/incidentcore.yaml", "path to the pipeline configuration file")
	rulesPath := flag.String("rules", "config/rules.yaml", "path to the declarative rule document")
	notifyDir := flag.String("notify-dir", "data/notifications", "directory the file-based notification transport writes to")
	detectCacheDir := flag.String("detect-cache-dir", "", "directory to persist DetectResult snapshots to (empty disables file-backed persistence)")
	manualTrigger := flag.String("manual-trigger", "", "path to a JSON trigger payload to run once as a manual incident, then exit")
	flag.Parse()

	log := newLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	log.SetLevel(levelFromString(cfg.Logging.Level))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	matcher := rules.NewMatcher()
	if err := matcher.LoadFile(*rulesPath); err != nil {
		log.WithError(err).Warn("no rule document loaded; the Rule Matcher starts empty")
	}
	watcher, err := rules.NewWatcher(matcher, *rulesPath, log)
	if err != nil {
		log.WithError(err).Warn("rule hot-reload watcher unavailable")
	} else {
		defer func() { _ = watcher.Close() }()
	}

	objects, vectors, embedder := buildKnowledgeBackends(ctx, cfg, log)
	store, err := knowledge.NewStore(ctx, objects, vectors, embedder, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize the knowledge store")
	}

	corr := correlator.NewCorrelator(buildCollectors(cfg, log), log)
	detector := detectagent.New(corr, matcher, search.NewDetectIndexer(store), log)
	if *detectCacheDir != "" {
		if persister, err := detectagent.NewFilePersister(*detectCacheDir); err != nil {
			log.WithError(err).Warn("failed to initialize the detect cache persister, running without it")
		} else {
			detector = detector.WithPersister(persister)
		}
	}

	l3 := buildL3Retriever(ctx, cfg, log)
	searchSvc := search.NewService(store, l3, log)

	midClient, err := llm.NewClient(cfg.SLM, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build the mid-capability model client")
	}
	var highClient llm.Client
	if cfg.SLM.HighModel != "" {
		highCfg := cfg.SLM
		highCfg.Model = cfg.SLM.HighModel
		highClient, err = llm.NewClient(highCfg, log)
		if err != nil {
			log.WithError(err).Warn("failed to build the high-capability model client, escalation disabled")
			highClient = nil
		}
	}
	inferencer := rca.New(matcher, searchSvc, midClient, highClient, log)

	policyEvaluator, err := policy.NewEvaluator(ctx, policy.Config{PolicyPath: cfg.Storage.PolicyBundle})
	if err != nil {
		log.WithError(err).Fatal("failed to load the SOP safety policy")
	}
	approvalGate := remediationapprovalrequest.NewGate()
	cooldownStore := buildCooldownStore(cfg, log)
	bridge := sop.New(matcher, store, defaultActionCatalog(), cooldownStore, policyEvaluator, approvalGate, log)

	notifier := delivery.NewFileDeliveryService(*notifyDir)

	registry := executor.NewActionRegistry()
	registerActionHandlers(registry, log)
	exec := executor.New(registry, log).WithNotifier(notifier)

	learner := feedback.New(store, log)

	orch := orchestrator.New(detector, inferencer, bridge, exec, notifier, learner, cfg.Monitoring.Services, log).
		WithTimings(orchestrator.DefaultDeadline, orchestrator.DefaultGracePeriod)

	auditStore := buildAuditor(cfg, log)
	orch = orch.WithAuditor(pipelineAuditor{store: auditStore})
	if auditStore != nil {
		defer func() { _ = auditStore.Close() }()
	}

	metricsServer := metrics.NewServer(cfg.Server.MetricsPort, log)
	metricsServer.StartAsync()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Stop(shutdownCtx)
	}()

	if *manualTrigger != "" {
		runManualTrigger(ctx, orch, *manualTrigger, log)
		return
	}

	// The webhook/cron/chat trigger surfaces that call orch.HandleIncident
	// in production are external collaborators; this process
	// just keeps the pipeline's dependencies alive for them until signaled.
	log.WithField("metrics_port", cfg.Server.MetricsPort).Info("incident pipeline core started")
	<-ctx.Done()
	log.Info("shutdown signal received, stopping")
}

// runManualTrigger decodes a JSON trigger payload from path and runs it
// through the Orchestrator as a TriggerManual incident, logging the
// resulting IncidentRecord.
func runManualTrigger(ctx context.Context, orch *orchestrator.Orchestrator, path string, log *logrus.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).Fatal("failed to read manual trigger payload")
	}

	var shape validation.TriggerPayload
	if err := json.Unmarshal(data, &shape); err != nil {
		log.WithError(err).Fatal("failed to parse manual trigger payload")
	}
	if err := validation.ValidateTriggerPayload(shape); err != nil {
		log.WithError(err).Fatal("manual trigger payload failed validation")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		log.WithError(err).Fatal("failed to parse manual trigger payload")
	}

	incident, err := orch.HandleIncident(ctx, types.TriggerManual, payload, nil)
	if err != nil {
		log.WithError(err).Fatal("manual incident handling failed")
	}
	log.WithFields(logrus.Fields{
		"incident_id": incident.IncidentID,
		"status":      incident.Status,
	}).Info("manual incident complete")
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	return log
}

func levelFromString(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}

// buildKnowledgeBackends selects the object store, vector index and
// embedder backing the Knowledge Store: Postgres + AWS Bedrock Titan when
// configured, falling back to the in-memory defaults for local/dev runs.
func buildKnowledgeBackends(ctx context.Context, cfg *config.Config, log *logrus.Logger) (knowledge.ObjectStore, vector.Database, knowledge.Embedder) {
	vectors := vector.NewMemoryVectorDatabase(log)

	if cfg.Storage.PostgresDSN == "" {
		return knowledge.NewInMemoryObjectStore(), vectors, nil
	}

	if err := database.MigrateDSN(cfg.Storage.PostgresDSN); err != nil {
		log.WithError(err).Warn("failed to apply knowledge store migrations, falling back to the in-memory object store")
		return knowledge.NewInMemoryObjectStore(), vectors, nil
	}

	db, err := database.ConnectDSN(cfg.Storage.PostgresDSN, log)
	if err != nil {
		log.WithError(err).Warn("failed to connect to postgres, falling back to the in-memory object store")
		return knowledge.NewInMemoryObjectStore(), vectors, nil
	}
	return knowledge.NewPostgresObjectStore(db), vectors, nil
}

// buildCooldownStore selects the cooldown registry: a shared
// Redis-backed store when
// cfg.Storage.RedisAddr is configured, so the 30-minute per-resource and
// 5-minute global windows hold across process replicas, falling back to
// the single-process in-memory map otherwise.
func buildCooldownStore(cfg *config.Config, log *logrus.Logger) sop.CooldownStore {
	if cfg.Storage.RedisAddr == "" {
		return sop.NewInMemoryCooldownStore()
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.WithError(err).Warn("failed to reach redis, falling back to the in-memory cooldown store")
		return sop.NewInMemoryCooldownStore()
	}
	return sop.NewRedisCooldownStore(redisClient)
}

// buildL3Retriever builds the Search Service's (C5) optional L3 layer
// against a Bedrock-fronted managed knowledge base when configured,
// returning nil (L3 disabled) otherwise.
func buildL3Retriever(ctx context.Context, cfg *config.Config, log *logrus.Logger) search.ExternalRetriever {
	if cfg.Search.BedrockKnowledgeModel == "" {
		return nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SLM.AWSRegion))
	if err != nil {
		log.WithError(err).Warn("failed to load AWS config for the L3 knowledge base, L3 disabled")
		return nil
	}
	brClient := bedrockruntime.NewFromConfig(awsCfg)
	return search.NewBedrockRetriever(brClient, cfg.Search.BedrockKnowledgeModel)
}

// buildCollectors adapts the configured Alertmanager endpoint into one
// correlator.Collector per watched service.
func buildCollectors(cfg *config.Config, log *logrus.Logger) []correlator.Collector {
	if cfg.Monitoring.AlertManagerEndpoint == "" {
		return nil
	}
	amClient := monitoring.NewAlertManagerClient(cfg.Monitoring.AlertManagerEndpoint, correlator.DefaultCollectorTimeout, log)
	collectors := make([]correlator.Collector, 0, len(cfg.Monitoring.Services))
	for _, service := range cfg.Monitoring.Services {
		collectors = append(collectors, monitoring.NewAlertManagerCollector(amClient, service, cfg.Kubernetes.Namespace, cfg.Monitoring.AlertName))
	}
	return collectors
}

// buildAuditor wires the BufferedStore
// to the Data Storage service when configured, else leaves auditing off.
func buildAuditor(cfg *config.Config, log *logrus.Logger) *audit.BufferedStore {
	if cfg.Audit.DataStorageEndpoint == "" {
		return nil
	}
	dsClient := client.NewDataStorageClient(client.Config{BaseURL: cfg.Audit.DataStorageEndpoint, Timeout: 5 * time.Second})
	sink := audit.NewDataStorageSink(dsClient)
	return audit.NewBufferedStore(sink, log,
		audit.WithBatchSize(cfg.Audit.BatchSize),
		audit.WithFlushInterval(cfg.Audit.FlushInterval),
		audit.WithQueueCapacity(cfg.Audit.QueueCapacity),
	)
}

// pipelineAuditor mirrors every audit event into the pipeline's
// Prometheus metrics (per-stage durations, handled-incident counts) and
// forwards it to the durable audit store when one is configured.
type pipelineAuditor struct {
	store *audit.BufferedStore
}

func (a pipelineAuditor) Record(e audit.Event) {
	switch e.Kind {
	case audit.EventStage:
		metrics.RecordStageDuration(e.Stage, time.Duration(e.DurationMS)*time.Millisecond)
	case audit.EventClosed:
		metrics.RecordIncident(e.TriggerType, e.Status)
	}
	if a.store != nil {
		a.store.Record(e)
	}
}

// defaultActionCatalog classifies the remediation hints the bundled
// rule document names; an action absent from this table still resolves (via
// Bridge.resolveAction) to a non-auto-executable manual_review advisory.
func defaultActionCatalog() sop.ActionCatalog {
	return sop.ActionCatalog{
		"rollout-restart": {
			ActionID: "rollout-restart", Description: "restart the deployment's pods",
			Kind: sop.ActionReversibleDisruptive, AutoExecutable: true,
		},
		"ec2-scale-up": {
			ActionID: "ec2-scale-up", Description: "scale up the instance's target group",
			Kind: sop.ActionIdempotentWrite, AutoExecutable: true,
		},
		"add-alarm": {
			ActionID: "add-alarm", Description: "add a supplementary CloudWatch alarm",
			Kind: sop.ActionIdempotentWrite, AutoExecutable: true,
		},
		"snapshot": {
			ActionID: "snapshot", Description: "snapshot the affected volume before remediating",
			Kind: sop.ActionIdempotentWrite, AutoExecutable: true,
		},
		"describe-resource": {
			ActionID: "describe-resource", Description: "describe the affected resource for diagnosis",
			Kind: sop.ActionReadOnly, AutoExecutable: true,
		},
		"check image name and registry credentials": {
			ActionID: "manual_review", Description: "check image name and registry credentials",
			Kind: sop.ActionReversibleDisruptive, AutoExecutable: false,
		},
	}
}

// registerActionHandlers registers the dry-run-aware handlers behind the
// action ids named in defaultActionCatalog; an unregistered id fails its
// step with reason "unknown_action".
func registerActionHandlers(registry *executor.ActionRegistry, log *logrus.Logger) {
	noop := func(actionID string) executor.ActionHandler {
		return func(ctx context.Context, params map[string]interface{}, dry bool) (executor.ActionOutcome, error) {
			log.WithFields(logrus.Fields{"action_id": actionID, "dry_run": dry, "params": params}).Info("dispatching action")
			if dry {
				return executor.ActionOutcome{OK: true, Output: "would execute " + actionID}, nil
			}
			return executor.ActionOutcome{OK: true, Output: "executed " + actionID}, nil
		}
	}
	for _, id := range []string{"rollout-restart", "ec2-scale-up", "add-alarm", "snapshot", "describe-resource"} {
		_ = registry.Register(id, noop(id))
	}
}
