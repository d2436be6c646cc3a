package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	// Each sub-config should be non-zero
	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, MongoConfig{}, cfg.Mongo)
	assert.NotEqual(t, LLMConfig{}, cfg.LLM)
	assert.NotEqual(t, WalletConfig{}, cfg.Wallet)
	assert.NotEqual(t, GuardrailsConfig{}, cfg.Guardrails)
	assert.NotEqual(t, CacheConfig{}, cfg.Cache)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

// --- Individual Default*Config functions ---

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.AllowQueryAPIKey)
	assert.Equal(t, float64(100), cfg.RateLimitRPS)
	assert.Equal(t, 200, cfg.RateLimitBurst)
	assert.Nil(t, cfg.APIKeys)
	assert.Nil(t, cfg.CORSAllowedOrigins)
}

func TestDefaultJWTConfig(t *testing.T) {
	cfg := DefaultJWTConfig()
	assert.Empty(t, cfg.Secret)
	assert.Empty(t, cfg.PublicKey)
	assert.Empty(t, cfg.Issuer)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 2, cfg.MinIdleConns)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "postgres", cfg.Driver)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "alfred", cfg.User)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, "alfred", cfg.Name)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
}

func TestDefaultMongoConfig(t *testing.T) {
	cfg := DefaultMongoConfig()
	assert.Equal(t, "mongodb://localhost:27017", cfg.URI)
	assert.Equal(t, "alfred", cfg.Database)
	assert.Equal(t, "audit_journal", cfg.Collection)
}

func TestDefaultLLMConfig(t *testing.T) {
	cfg := DefaultLLMConfig()
	assert.NotNil(t, cfg.Providers)
	assert.Empty(t, cfg.Providers)
	assert.NotNil(t, cfg.RoutingWeights)
	assert.Equal(t, 2*time.Minute, cfg.DefaultTimeout)
	assert.Equal(t, 2, cfg.MaxRetries)
}

func TestDefaultWalletConfig(t *testing.T) {
	cfg := DefaultWalletConfig()
	assert.Equal(t, int64(100_0000), cfg.DefaultAllowanceUnits)
	assert.Equal(t, 2*time.Minute, cfg.ReservationTTL)
	assert.Equal(t, 30*time.Second, cfg.JanitorInterval)
	assert.Equal(t, "none", cfg.RolloverPolicy)
	assert.Equal(t, int64(0), cfg.CarryCapUnits)
	assert.Equal(t, int64(50_0000), cfg.DailyTransferCapUnits)
}

func TestDefaultGuardrailsConfig(t *testing.T) {
	cfg := DefaultGuardrailsConfig()
	assert.Equal(t, 8192, cfg.MaxOutputTokens)
	assert.Equal(t, 4<<20, cfg.MaxResponseBytes)
	assert.Equal(t, 60, cfg.RepetitionWindow)
	assert.Equal(t, 3, cfg.RepetitionMaxRepeats)
}

func TestDefaultCacheConfig(t *testing.T) {
	cfg := DefaultCacheConfig()
	assert.True(t, cfg.Enabled)
	assert.InDelta(t, 0.97, cfg.SimilarityThreshold, 0.001)
	assert.Equal(t, int64(16<<20), cfg.PerTenantByteBudget)
	assert.Equal(t, 10*time.Minute, cfg.TTL)
	assert.Equal(t, 256, cfg.EmbeddingDim)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "alfred", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}
