// =============================================================================
// 📦 Alfred 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("ALFRED").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config is Alfred's complete runtime configuration.
type Config struct {
	// Server HTTP/gRPC listener configuration.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// JWT bearer-token authentication.
	JWT JWTConfig `yaml:"jwt" env:"JWT"`

	// Redis 缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置 (wallet ledger, reservations, transfers)
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Mongo backs the append-only audit journal.
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`

	// LLM 大语言模型配置 (providers, models, pricing, routing)
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Wallet default allowances and rollover policy.
	Wallet WalletConfig `yaml:"wallet" env:"WALLET"`

	// Guardrails output-validation limits.
	Guardrails GuardrailsConfig `yaml:"guardrails" env:"GUARDRAILS"`

	// Cache 语义缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// gRPC 端口
	GRPCPort int `yaml:"grpc_port" env:"GRPC_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 静态 API Key 白名单（与 JWT 并存，供服务对服务调用使用）
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 是否允许通过 ?api_key= 查询参数传递 API Key
	AllowQueryAPIKey bool `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	// CORS 允许的来源列表
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 每秒请求数限流阈值
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// JWTConfig configures Bearer-token authentication for tenant resolution.
type JWTConfig struct {
	// Secret is the HMAC (HS256) signing secret.
	Secret string `yaml:"secret" env:"SECRET"`
	// PublicKey is a PEM-encoded RSA public key (RS256). Optional.
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
	Audience  string `yaml:"audience" env:"AUDIENCE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MongoConfig 审计日志（append-only journal）的 Mongo 连接配置
type MongoConfig struct {
	URI        string `yaml:"uri" env:"URI"`
	Database   string `yaml:"database" env:"DATABASE"`
	Collection string `yaml:"collection" env:"COLLECTION"`
}

// LLMConfig is the gateway's view of upstream providers: which ones exist,
// their models, pricing, and fallback ordering. The router and pricing
// table are built from this section once, at startup; a hot reload swaps
// the Config value but does not rebuild them.
type LLMConfig struct {
	// Providers keyed by provider code (e.g. "openai", "anthropic").
	Providers map[string]ProviderEntry `yaml:"providers" env:"PROVIDERS"`
	// RoutingWeights keyed by task type, applied by the weighted router.
	RoutingWeights map[string][]RoutingWeightEntry `yaml:"routing_weights"`
	// DefaultTimeout applies to a single upstream call when a model entry
	// doesn't override it.
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// MaxRetries bounds failover hops across a model's fallback chain.
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
}

// ProviderEntry describes one upstream provider and its model catalog.
type ProviderEntry struct {
	Name     string       `yaml:"name"`
	BaseURL  string       `yaml:"base_url"`
	APIKey   string       `yaml:"api_key"`
	AuthMode string       `yaml:"auth_mode"`
	Region   string       `yaml:"region"`
	Priority int          `yaml:"priority"`
	Enabled  bool         `yaml:"enabled"`
	Models   []ModelEntry `yaml:"models"`
}

// ModelEntry describes one billable model within a provider.
type ModelEntry struct {
	ID          string   `yaml:"id"`
	Family      string   `yaml:"family"`
	Tokenizer   string   `yaml:"tokenizer"`
	MaxTokens   int      `yaml:"max_tokens"`
	InRate      float64  `yaml:"in_rate"`  // credits per 1K prompt tokens
	OutRate     float64  `yaml:"out_rate"` // credits per 1K output tokens
	CachedRate  float64  `yaml:"cached_rate"`
	Tags        []string `yaml:"tags"`
	FallbackIDs []string `yaml:"fallback_ids"` // ordered failover chain, "provider/model"
}

// RoutingWeightEntry mirrors llm/config.RoutingWeight for YAML loading.
type RoutingWeightEntry struct {
	ModelID        string  `yaml:"model_id"`
	Weight         int     `yaml:"weight"`
	CostWeight     float64 `yaml:"cost_weight"`
	LatencyWeight  float64 `yaml:"latency_weight"`
	QualityWeight  float64 `yaml:"quality_weight"`
	MaxCostPerReq  float64 `yaml:"max_cost_per_req"`
	MaxLatencyMs   int     `yaml:"max_latency_ms"`
	MinSuccessRate float64 `yaml:"min_success_rate"`
	Enabled        bool    `yaml:"enabled"`
}

// WalletConfig sets defaults applied when a tenant's root wallet is
// provisioned and governs the janitor/rollover background loops.
type WalletConfig struct {
	DefaultAllowanceUnits int64         `yaml:"default_allowance_units" env:"DEFAULT_ALLOWANCE_UNITS"`
	ReservationTTL        time.Duration `yaml:"reservation_ttl" env:"RESERVATION_TTL"`
	JanitorInterval       time.Duration `yaml:"janitor_interval" env:"JANITOR_INTERVAL"`
	RolloverCheckInterval time.Duration `yaml:"rollover_check_interval" env:"ROLLOVER_CHECK_INTERVAL"`
	RolloverPolicy        string        `yaml:"rollover_policy" env:"ROLLOVER_POLICY"` // none | carry | capped_carry
	CarryCapUnits         int64         `yaml:"carry_cap_units" env:"CARRY_CAP_UNITS"`
	DailyTransferCapUnits int64         `yaml:"daily_transfer_cap_units" env:"DAILY_TRANSFER_CAP_UNITS"`
}

// GuardrailsConfig bounds output validation applied to every streamed
// completion before it is billed and forwarded to the client.
type GuardrailsConfig struct {
	MaxOutputTokens      int `yaml:"max_output_tokens" env:"MAX_OUTPUT_TOKENS"`
	MaxResponseBytes     int `yaml:"max_response_bytes" env:"MAX_RESPONSE_BYTES"`
	RepetitionWindow     int `yaml:"repetition_window" env:"REPETITION_WINDOW"`
	RepetitionMaxRepeats int `yaml:"repetition_max_repeats" env:"REPETITION_MAX_REPEATS"`
}

// CacheConfig configures the semantic response cache.
type CacheConfig struct {
	Enabled              bool          `yaml:"enabled" env:"ENABLED"`
	SimilarityThreshold  float64       `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
	PerTenantByteBudget  int64         `yaml:"per_tenant_byte_budget" env:"PER_TENANT_BYTE_BUDGET"`
	TTL                  time.Duration `yaml:"ttl" env:"TTL"`
	EmbeddingDim         int           `yaml:"embedding_dim" env:"EMBEDDING_DIM"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "ALFRED",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Wallet.DefaultAllowanceUnits < 0 {
		errs = append(errs, "wallet.default_allowance_units must be non-negative")
	}
	if c.Wallet.ReservationTTL <= 0 {
		errs = append(errs, "wallet.reservation_ttl must be positive")
	}
	switch c.Wallet.RolloverPolicy {
	case "none", "carry", "capped_carry":
	default:
		errs = append(errs, "wallet.rollover_policy must be one of: none, carry, capped_carry")
	}
	if c.Guardrails.MaxOutputTokens <= 0 {
		errs = append(errs, "guardrails.max_output_tokens must be positive")
	}
	if c.Cache.Enabled && (c.Cache.SimilarityThreshold <= 0 || c.Cache.SimilarityThreshold > 1) {
		errs = append(errs, "cache.similarity_threshold must be in (0, 1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
