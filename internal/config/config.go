// Package config loads and validates the incident pipeline's configuration:
// a YAML file with environment-variable overrides, matching the layered
// load-then-validate convention used across the codebase.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the pipeline's inbound signal and metrics ports.
type ServerConfig struct {
	WebhookPort string `yaml:"webhook_port"`
	MetricsPort string `yaml:"metrics_port"`
}

// RCAConfig configures the model backend used by the RCA Inferencer (C7).
type RCAConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	Model          string        `yaml:"model"`
	Timeout        time.Duration `yaml:"timeout"`
	RetryCount     int           `yaml:"retry_count"`
	Provider       string        `yaml:"provider"`
	Temperature    float32       `yaml:"temperature"`
	MaxTokens      int           `yaml:"max_tokens"`
	MaxContextSize int           `yaml:"max_context_size"`
	// APIKey authenticates the anthropic provider. Left out of committed
	// YAML; set via the SLM_API_KEY environment variable.
	APIKey string `yaml:"api_key,omitempty"`
	// AWSRegion targets the bedrock provider's Bedrock Runtime endpoint.
	AWSRegion string `yaml:"aws_region,omitempty"`
	// HighModel names the higher-capability model the RCA Inferencer (C7)
	// escalates to when the mid-capability model's parsed confidence is
	// below rca.MidModelConfidenceFloor. Empty disables escalation.
	HighModel string `yaml:"high_model,omitempty"`
}

// LLMConfig is the typed view of RCAConfig used by the pkg/ai/llm client.
type LLMConfig = RCAConfig

// CorrelatorConfig scopes which cloud resources the Correlator (C1) collects from.
type CorrelatorConfig struct {
	Context   string `yaml:"context"`
	Namespace string `yaml:"namespace"`
}

// ExecutionConfig governs the SOP Executor's (C9) dispatch behavior.
type ExecutionConfig struct {
	DryRun         bool          `yaml:"dry_run"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	CooldownPeriod time.Duration `yaml:"cooldown_period"`
}

// Filter scopes which correlated events a rule or notification applies to.
type Filter struct {
	Name       string              `yaml:"name"`
	Conditions map[string][]string `yaml:"conditions"`
}

// LoggingConfig configures the logrus structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WebhookConfig configures the inbound alert-ingestion HTTP listener that
// feeds the Correlator; the listener itself lives outside this core.
type WebhookConfig struct {
	Port string `yaml:"port"`
	Path string `yaml:"path"`
}

// MonitoringConfig points the Correlator's Collectors at an Alertmanager
// instance and names the services/alerts it watches.
type MonitoringConfig struct {
	AlertManagerEndpoint string   `yaml:"alertmanager_endpoint"`
	Services             []string `yaml:"services"`
	AlertName            string   `yaml:"alert_name"`
}

// AuditConfig tunes the buffered audit trail's batching behavior and
// points it at the Data Storage service's ingestion endpoint.
type AuditConfig struct {
	DataStorageEndpoint string        `yaml:"data_storage_endpoint"`
	BatchSize           int           `yaml:"batch_size"`
	FlushInterval       time.Duration `yaml:"flush_interval"`
	QueueCapacity       int           `yaml:"queue_capacity"`
}

// ApprovalConfig holds the approval.ttl setting. It is not passed to the
// SOP Bridge, which issues L4 (approval_required) tokens with
// types.DefaultApprovalTTL (15m).
type ApprovalConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// StorageConfig locates the cooldown/approval state store and the SOP
// policy bundle evaluated by the bridge.
type StorageConfig struct {
	RedisAddr    string `yaml:"redis_addr"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	PolicyBundle string `yaml:"policy_bundle"`
}

// SearchConfig configures the Search Service's (C5) optional L3 layer.
type SearchConfig struct {
	// BedrockKnowledgeModel, when set, enables L3 retrieval against a
	// Bedrock-fronted managed knowledge base. Empty disables
	// L3 entirely; L1/L2 are unaffected.
	BedrockKnowledgeModel string `yaml:"bedrock_knowledge_model,omitempty"`
}

// Config is the root configuration document for the incident pipeline.
//
// The field names below (SLM, Kubernetes, Actions) are kept for the YAML
// schema that production deployments already carry; the aliases RCA,
// Correlator, and Execution are provided as typed views of the same data.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	SLM        SLMConfig        `yaml:"slm"`
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
	Actions    ActionsConfig    `yaml:"actions"`
	Filters    []Filter         `yaml:"filters"`
	Logging    LoggingConfig    `yaml:"logging"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Audit      AuditConfig      `yaml:"audit"`
	Approval   ApprovalConfig   `yaml:"approval"`
	Storage    StorageConfig    `yaml:"storage"`
	Search     SearchConfig     `yaml:"search"`
}

// SLMConfig is the on-disk schema name for RCAConfig, kept for YAML
// compatibility with existing deployment manifests.
type SLMConfig = RCAConfig

// KubernetesConfig is the on-disk schema name for CorrelatorConfig.
type KubernetesConfig = CorrelatorConfig

// ActionsConfig is the on-disk schema name for ExecutionConfig.
type ActionsConfig = ExecutionConfig

const (
	defaultMetricsPort    = "9090"
	defaultNamespace      = "default"
	defaultMaxConcurrent  = 5
	defaultCooldownPeriod = 5 * time.Minute
	defaultRCAProvider    = "localai"
	defaultRCAEndpoint    = "http://localhost:8080"
	defaultRCATimeout     = 30 * time.Second
	defaultRCARetryCount  = 3
	defaultRCATemperature = float32(0.3)
	defaultRCAMaxTokens   = 500
	defaultAuditBatchSize = 100
	defaultAuditFlush     = 5 * time.Second
	defaultAuditQueueCap  = 1000
	defaultApprovalTTL    = 30 * time.Minute
)

// Load reads, parses, applies defaults to, and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.MetricsPort == "" {
		cfg.Server.MetricsPort = defaultMetricsPort
	}
	if cfg.Kubernetes.Namespace == "" {
		cfg.Kubernetes.Namespace = defaultNamespace
	}
	if cfg.Actions.MaxConcurrent == 0 {
		cfg.Actions.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Actions.CooldownPeriod == 0 {
		cfg.Actions.CooldownPeriod = defaultCooldownPeriod
	}
	if cfg.SLM.Provider == "" {
		cfg.SLM.Provider = defaultRCAProvider
	}
	if cfg.SLM.MaxTokens == 0 {
		cfg.SLM.MaxTokens = defaultRCAMaxTokens
	}
	if cfg.Audit.BatchSize == 0 {
		cfg.Audit.BatchSize = defaultAuditBatchSize
	}
	if cfg.Audit.FlushInterval == 0 {
		cfg.Audit.FlushInterval = defaultAuditFlush
	}
	if cfg.Audit.QueueCapacity == 0 {
		cfg.Audit.QueueCapacity = defaultAuditQueueCap
	}
	if cfg.Approval.TTL == 0 {
		cfg.Approval.TTL = defaultApprovalTTL
	}
}

var validProviders = map[string]bool{
	"localai":    true,
	"anthropic":  true,
	"bedrock":    true,
	"langchain":  true,
}

// validate applies cross-field rules the YAML schema alone cannot express.
func validate(cfg *Config) error {
	if !validProviders[cfg.SLM.Provider] {
		return fmt.Errorf("unsupported SLM provider: %s", cfg.SLM.Provider)
	}

	if cfg.SLM.Endpoint == "" {
		cfg.SLM.Endpoint = defaultRCAEndpoint
	}

	if cfg.SLM.Provider == "localai" && cfg.SLM.Model == "" {
		return fmt.Errorf("SLM model is required for LocalAI provider")
	}

	if cfg.SLM.Temperature < 0.0 || cfg.SLM.Temperature > 1.0 {
		return fmt.Errorf("SLM temperature must be between 0.0 and 1.0")
	}

	if cfg.SLM.MaxTokens <= 0 {
		return fmt.Errorf("SLM max tokens must be greater than 0")
	}

	if cfg.Kubernetes.Namespace == "" {
		return fmt.Errorf("Kubernetes namespace is required")
	}

	if cfg.Actions.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent actions must be greater than 0")
	}

	return nil
}

// loadFromEnv overlays environment-variable values onto cfg, for deployments
// that inject secrets/ports via the environment rather than the YAML file.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("SLM_ENDPOINT"); v != "" {
		cfg.SLM.Endpoint = v
	}
	if v := os.Getenv("SLM_MODEL"); v != "" {
		cfg.SLM.Model = v
	}
	if v := os.Getenv("SLM_PROVIDER"); v != "" {
		cfg.SLM.Provider = v
	}
	if v := os.Getenv("WEBHOOK_PORT"); v != "" {
		cfg.Server.WebhookPort = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Server.MetricsPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		dryRun, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DRY_RUN value: %w", err)
		}
		cfg.Actions.DryRun = dryRun
	}
	if v := os.Getenv("SLM_API_KEY"); v != "" {
		cfg.SLM.APIKey = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.SLM.AWSRegion = v
	}
	if v := os.Getenv("SLM_HIGH_MODEL"); v != "" {
		cfg.SLM.HighModel = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	return nil
}
