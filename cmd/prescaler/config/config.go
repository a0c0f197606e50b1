// Package config parses the prescaler configuration.
//
// Global settings come from command-line flags with environment variable
// fallbacks (flags win). Workloads are defined either by a YAML file passed
// with --config-file, or, for a single workload, by flags plus ADAPTER_*
// environment variables:
//
//	ADAPTER_URL=http://prometheus:9090
//	ADAPTER_QUERY='sum(rate(http_requests_total{app="api"}[1m])) * 60'
//
// Policy, window and forecast settings given as flags act as defaults for
// every workload in the YAML file.
//
// Configuration is read once at startup and never modified afterwards.
package config

import (
	"flag"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/HatiCode/prescaler/pkg/capacity"
	"github.com/HatiCode/prescaler/pkg/tls"
)

// Config holds all process-level configuration.
type Config struct {
	Listen     string `json:"listen"`
	GRPCListen string `json:"grpcListen"`
	LogFormat  string `json:"logFormat"`
	LogLevel   string `json:"logLevel"`
	ConfigFile string `json:"configFile,omitempty"`
	AutoStart  bool   `json:"autoStart"`

	Storage       string        `json:"storage"`
	ActionLog     string        `json:"actionLog"`
	ActionLogSize int           `json:"actionLogSize"`
	RedisAddr     string        `json:"redisAddr"`
	RedisPassword string        `json:"-"`
	RedisDB       int           `json:"redisDB"`
	SnapshotTTL   time.Duration `json:"snapshotTTL"`
	TLS           tls.Config    `json:"tls"`
	ClientTLS     tls.Config    `json:"clientTLS"`

	Orchestrator      string `json:"orchestrator"`
	Kubeconfig        string `json:"kubeconfig,omitempty"`
	Namespace         string `json:"namespace"`
	LabelSelector     string `json:"labelSelector,omitempty"`
	SimulatedReplicas int    `json:"simulatedReplicas,omitempty"`

	Interval      time.Duration `json:"interval"`
	Retention     time.Duration `json:"retention"`
	MaxRetained   int           `json:"maxRetained"`
	RateLimit     float64       `json:"rateLimit"`
	RateBurst     int           `json:"rateBurst"`
	ModelTimeout  time.Duration `json:"modelTimeout"`
	ShutdownGrace time.Duration `json:"shutdownGrace"`

	// Defaults is the single workload in flag mode and the template for
	// every workload in file mode.
	Defaults WorkloadConfig `json:"defaults"`
}

// WorkloadConfig configures one managed workload.
type WorkloadConfig struct {
	Name          string            `yaml:"name" json:"name"`
	Adapter       string            `yaml:"adapter" json:"adapter"`
	AdapterConfig map[string]string `yaml:"adapterConfig" json:"adapterConfig,omitempty"`
	Model         string            `yaml:"model" json:"model"`
	BYOMURL       string            `yaml:"byomURL" json:"byomURL,omitempty"`
	BYOMValuePath string            `yaml:"byomValuePath" json:"byomValuePath,omitempty"`

	WindowSize   int           `yaml:"windowSize" json:"windowSize"`
	Horizon      int           `yaml:"horizon" json:"horizon"`
	ForecastStep time.Duration `yaml:"forecastStep" json:"forecastStep"`
	SampleStep   time.Duration `yaml:"sampleStep" json:"sampleStep"`

	UpThreshold       float64              `yaml:"upThreshold" json:"upThreshold"`
	DownThreshold     float64              `yaml:"downThreshold" json:"downThreshold"`
	ScaleUpReplicas   int                  `yaml:"scaleUpReplicas" json:"scaleUpReplicas"`
	ScaleDownReplicas int                  `yaml:"scaleDownReplicas" json:"scaleDownReplicas"`
	Aggregation       capacity.Aggregation `yaml:"aggregation" json:"aggregation"`
	MinReplicas       int                  `yaml:"minReplicas" json:"minReplicas"`
	MaxReplicas       int                  `yaml:"maxReplicas" json:"maxReplicas"`
}

// Policy returns the decision policy of the workload.
func (w WorkloadConfig) Policy() capacity.Policy {
	return capacity.Policy{
		UpThreshold:       w.UpThreshold,
		DownThreshold:     w.DownThreshold,
		ScaleUpReplicas:   w.ScaleUpReplicas,
		ScaleDownReplicas: w.ScaleDownReplicas,
		Aggregation:       w.Aggregation,
	}
}

// Bounds returns the replica bounds of the workload.
func (w WorkloadConfig) Bounds() capacity.Bounds {
	return capacity.Bounds{Min: w.MinReplicas, Max: w.MaxReplicas}
}

// CollectSeconds is how far back each cycle asks the metrics source to look:
// enough to fill the window.
func (w WorkloadConfig) CollectSeconds() int {
	return w.WindowSize * int(w.SampleStep.Seconds())
}

type workloadFile struct {
	Workloads []WorkloadConfig `yaml:"workloads"`
}

// ParseFlags parses os.Args and the environment, exiting on invalid input.
func ParseFlags() *Config {
	cfg, err := Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// Parse registers flags on fs, parses args and validates process settings.
// Workloads are loaded separately by LoadWorkloads.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}
	d := &cfg.Defaults

	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ":50051"), "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.ConfigFile, "config-file", getEnv("CONFIG_FILE", ""), "YAML file with workload definitions")
	fs.BoolVar(&cfg.AutoStart, "auto-start", getEnvBool("AUTO_START", false), "Start the continuous task at boot")

	fs.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Forecast storage: memory or redis")
	fs.StringVar(&cfg.ActionLog, "action-log", getEnv("ACTION_LOG", "memory"), "Action log backend: memory or redis")
	fs.IntVar(&cfg.ActionLogSize, "action-log-size", getEnvInt("ACTION_LOG_SIZE", 1000), "Number of action log entries retained")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	fs.DurationVar(&cfg.SnapshotTTL, "snapshot-ttl", getEnvDuration("SNAPSHOT_TTL", 30*time.Minute), "Forecast snapshot TTL (memory and redis)")

	fs.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable TLS for the HTTP server")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	fs.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "CA file for client certificate verification")

	fs.BoolVar(&cfg.ClientTLS.Enabled, "client-tls-enabled", getEnvBool("CLIENT_TLS_ENABLED", false), "Use mTLS for model server calls")
	fs.StringVar(&cfg.ClientTLS.CertFile, "client-tls-cert-file", getEnv("CLIENT_TLS_CERT_FILE", ""), "Client certificate file")
	fs.StringVar(&cfg.ClientTLS.KeyFile, "client-tls-key-file", getEnv("CLIENT_TLS_KEY_FILE", ""), "Client private key file")
	fs.StringVar(&cfg.ClientTLS.CAFile, "client-tls-ca-file", getEnv("CLIENT_TLS_CA_FILE", ""), "CA file for model server verification")

	fs.StringVar(&cfg.Orchestrator, "orchestrator", getEnv("ORCHESTRATOR", "kubernetes"), "Orchestrator: kubernetes or simulated")
	fs.StringVar(&cfg.Kubeconfig, "kubeconfig", getEnv("KUBECONFIG", ""), "Kubeconfig path (empty uses in-cluster config)")
	fs.StringVar(&cfg.Namespace, "namespace", getEnv("NAMESPACE", "default"), "Namespace of managed deployments")
	fs.StringVar(&cfg.LabelSelector, "label-selector", getEnv("LABEL_SELECTOR", ""), "Label selector for the deployment inventory")
	fs.IntVar(&cfg.SimulatedReplicas, "simulated-replicas", getEnvInt("SIMULATED_REPLICAS", 1), "Initial replicas per workload for the simulated orchestrator")

	fs.DurationVar(&cfg.Interval, "interval", getEnvDuration("INTERVAL", 30*time.Second), "Control loop interval")
	fs.DurationVar(&cfg.Retention, "task-retention", getEnvDuration("TASK_RETENTION", 24*time.Hour), "How long finished tasks are kept")
	fs.IntVar(&cfg.MaxRetained, "task-max-retained", getEnvInt("TASK_MAX_RETAINED", 100), "Maximum number of finished tasks kept")
	fs.Float64Var(&cfg.RateLimit, "rate-limit", getEnvFloat("RATE_LIMIT", 1), "Control endpoint requests per second (0 disables)")
	fs.IntVar(&cfg.RateBurst, "rate-burst", getEnvInt("RATE_BURST", 5), "Control endpoint burst size")
	fs.DurationVar(&cfg.ModelTimeout, "model-timeout", getEnvDuration("MODEL_TIMEOUT", 30*time.Second), "Timeout for remote model and metrics calls")
	fs.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", getEnvDuration("SHUTDOWN_GRACE", 30*time.Second), "Time allowed for in-flight cycles on shutdown")

	fs.StringVar(&d.Name, "workload", getEnv("WORKLOAD", ""), "Workload (deployment) name in single-workload mode")
	fs.StringVar(&d.Adapter, "adapter", getEnv("ADAPTER", "prometheus"), "Metrics source: prometheus, victoriametrics, http or replay")
	fs.StringVar(&d.Model, "model", getEnv("MODEL", "baseline"), "Forecasting model: baseline or byom")
	fs.StringVar(&d.BYOMURL, "byom-url", getEnv("BYOM_URL", ""), "Model server URL (required when model=byom)")
	fs.StringVar(&d.BYOMValuePath, "byom-value-path", getEnv("BYOM_VALUE_PATH", "values"), "gjson path of the predictions in the model response")
	fs.IntVar(&d.WindowSize, "window", getEnvInt("WINDOW", 30), "Samples per prediction window")
	fs.IntVar(&d.Horizon, "horizon", getEnvInt("HORIZON", 6), "Forecast points per prediction")
	fs.DurationVar(&d.ForecastStep, "forecast-step", getEnvDuration("FORECAST_STEP", 10*time.Minute), "Spacing between forecast points")
	fs.DurationVar(&d.SampleStep, "sample-step", getEnvDuration("SAMPLE_STEP", time.Minute), "Spacing between metric samples")
	fs.Float64Var(&d.UpThreshold, "up-threshold", getEnvFloat("UP_THRESHOLD", 310), "Predicted requests/min above which to scale up")
	fs.Float64Var(&d.DownThreshold, "down-threshold", getEnvFloat("DOWN_THRESHOLD", 0), "Predicted requests/min below which to scale down (0 = up-threshold)")
	fs.IntVar(&d.ScaleUpReplicas, "scale-up-replicas", getEnvInt("SCALE_UP_REPLICAS", 3), "Replicas when scaling up")
	fs.IntVar(&d.ScaleDownReplicas, "scale-down-replicas", getEnvInt("SCALE_DOWN_REPLICAS", 1), "Replicas when scaling down")
	aggregation := fs.String("aggregation", getEnv("AGGREGATION", string(capacity.AggregateMax)), "Forecast aggregation: max or mean")
	fs.IntVar(&d.MinReplicas, "min", getEnvInt("MIN_REPLICAS", 1), "Minimum replicas")
	fs.IntVar(&d.MaxReplicas, "max", getEnvInt("MAX_REPLICAS", 10), "Maximum replicas (0 = unbounded)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	d.Aggregation = capacity.Aggregation(*aggregation)
	d.AdapterConfig = parseAdapterConfig(os.Environ())

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid storage %q (must be memory or redis)", c.Storage)
	}
	switch c.ActionLog {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid action log %q (must be memory or redis)", c.ActionLog)
	}
	switch c.Orchestrator {
	case "kubernetes", "simulated":
	default:
		return fmt.Errorf("invalid orchestrator %q (must be kubernetes or simulated)", c.Orchestrator)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be > 0")
	}
	if c.ActionLogSize <= 0 {
		return fmt.Errorf("action log size must be > 0")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must be >= 0")
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("rate burst must be > 0 when rate limiting is enabled")
	}
	if err := c.TLS.Validate(); err != nil {
		return err
	}
	if err := c.ClientTLS.Validate(); err != nil {
		return fmt.Errorf("client %w", err)
	}
	if c.ClientTLS.Enabled && c.ClientTLS.CAFile == "" {
		return fmt.Errorf("client tls requires a CA file")
	}
	return nil
}

// parseAdapterConfig turns ADAPTER_* variables into adapter config keys:
// ADAPTER_VALUE_PATH=x becomes valuePath=x. ADAPTER itself is not included.
func parseAdapterConfig(environ []string) map[string]string {
	config := make(map[string]string)
	for _, env := range environ {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, "ADAPTER_") {
			continue
		}
		key := toLowerCamelCase(strings.TrimPrefix(name, "ADAPTER_"))
		if key != "" {
			config[key] = value
		}
	}
	return config
}

func toLowerCamelCase(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

var workloadNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._-]{0,251}[a-zA-Z0-9])?$`)

// LoadWorkloads returns the validated workloads: those of the YAML file when
// one is configured, otherwise the single workload given by flags.
func LoadWorkloads(cfg *Config) ([]WorkloadConfig, error) {
	if cfg.ConfigFile == "" {
		w := cfg.Defaults
		if err := validateWorkload(&w, 0); err != nil {
			return nil, err
		}
		return []WorkloadConfig{w}, nil
	}

	data, err := os.ReadFile(cfg.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseWorkloads(data, cfg.Defaults)
}

// ParseWorkloads decodes a YAML workload file. Unset fields inherit from
// defaults; the adapter config map is inherited only when the workload
// declares none.
func ParseWorkloads(data []byte, defaults WorkloadConfig) ([]WorkloadConfig, error) {
	var file workloadFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse workloads: %w", err)
	}
	if len(file.Workloads) == 0 {
		return nil, fmt.Errorf("config file defines no workloads")
	}

	seen := make(map[string]bool, len(file.Workloads))
	out := make([]WorkloadConfig, 0, len(file.Workloads))
	for i, w := range file.Workloads {
		w = withDefaults(w, defaults)
		if err := validateWorkload(&w, i); err != nil {
			return nil, err
		}
		if seen[w.Name] {
			return nil, fmt.Errorf("workload %q defined more than once", w.Name)
		}
		seen[w.Name] = true
		out = append(out, w)
	}
	return out, nil
}

func withDefaults(w, d WorkloadConfig) WorkloadConfig {
	if w.Adapter == "" {
		w.Adapter = d.Adapter
	}
	if w.AdapterConfig == nil {
		w.AdapterConfig = d.AdapterConfig
	}
	if w.Model == "" {
		w.Model = d.Model
	}
	if w.BYOMURL == "" {
		w.BYOMURL = d.BYOMURL
	}
	if w.BYOMValuePath == "" {
		w.BYOMValuePath = d.BYOMValuePath
	}
	if w.WindowSize == 0 {
		w.WindowSize = d.WindowSize
	}
	if w.Horizon == 0 {
		w.Horizon = d.Horizon
	}
	if w.ForecastStep == 0 {
		w.ForecastStep = d.ForecastStep
	}
	if w.SampleStep == 0 {
		w.SampleStep = d.SampleStep
	}
	if w.UpThreshold == 0 {
		w.UpThreshold = d.UpThreshold
	}
	if w.DownThreshold == 0 {
		w.DownThreshold = d.DownThreshold
	}
	if w.ScaleUpReplicas == 0 {
		w.ScaleUpReplicas = d.ScaleUpReplicas
	}
	if w.ScaleDownReplicas == 0 {
		w.ScaleDownReplicas = d.ScaleDownReplicas
	}
	if w.Aggregation == "" {
		w.Aggregation = d.Aggregation
	}
	if w.MinReplicas == 0 {
		w.MinReplicas = d.MinReplicas
	}
	if w.MaxReplicas == 0 {
		w.MaxReplicas = d.MaxReplicas
	}
	return w
}

func validateWorkload(w *WorkloadConfig, index int) error {
	if w.Name == "" {
		return fmt.Errorf("workload[%d]: name cannot be empty", index)
	}
	if !workloadNameRegex.MatchString(w.Name) {
		return fmt.Errorf("workload[%d]: invalid name %q (must be alphanumeric with dot/dash/underscore, 1-253 chars)", index, w.Name)
	}
	if w.Adapter == "" {
		return fmt.Errorf("workload %q: adapter cannot be empty", w.Name)
	}
	if w.WindowSize <= 0 {
		return fmt.Errorf("workload %q: window must be > 0", w.Name)
	}
	if w.Horizon <= 0 {
		return fmt.Errorf("workload %q: horizon must be > 0", w.Name)
	}
	if w.ForecastStep < time.Second {
		return fmt.Errorf("workload %q: forecast step must be at least 1s", w.Name)
	}
	if w.SampleStep < time.Second {
		return fmt.Errorf("workload %q: sample step must be at least 1s", w.Name)
	}
	if w.MinReplicas < 0 {
		return fmt.Errorf("workload %q: minReplicas cannot be negative", w.Name)
	}
	if w.MaxReplicas != 0 && w.MaxReplicas < w.MinReplicas {
		return fmt.Errorf("workload %q: maxReplicas (%d) < minReplicas (%d)", w.Name, w.MaxReplicas, w.MinReplicas)
	}
	if w.Aggregation == "" {
		w.Aggregation = capacity.AggregateMax
	}
	if w.Aggregation != capacity.AggregateMax && w.Aggregation != capacity.AggregateMean {
		return fmt.Errorf("workload %q: invalid aggregation %q (must be max or mean)", w.Name, w.Aggregation)
	}
	if err := w.Policy().Validate(); err != nil {
		return fmt.Errorf("workload %q: %w", w.Name, err)
	}

	if w.Model == "" {
		w.Model = "baseline"
	}
	switch w.Model {
	case "baseline":
	case "byom":
		if w.BYOMURL == "" {
			return fmt.Errorf("workload %q: byomURL is required when model=byom", w.Name)
		}
	default:
		return fmt.Errorf("workload %q: invalid model %q (must be baseline or byom)", w.Name, w.Model)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
