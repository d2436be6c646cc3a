// =============================================================================
// 📦 Alfred 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		JWT:        DefaultJWTConfig(),
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		Mongo:      DefaultMongoConfig(),
		LLM:        DefaultLLMConfig(),
		Wallet:     DefaultWalletConfig(),
		Guardrails: DefaultGuardrailsConfig(),
		Cache:      DefaultCacheConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           8080,
		GRPCPort:           9090,
		MetricsPort:        9091,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		APIKeys:            nil,
		AllowQueryAPIKey:   false,
		CORSAllowedOrigins: nil,
		RateLimitRPS:       100,
		RateLimitBurst:     200,
	}
}

// DefaultJWTConfig 返回默认 JWT 配置
func DefaultJWTConfig() JWTConfig {
	return JWTConfig{}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "alfred",
		Password:        "",
		Name:            "alfred",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultMongoConfig 返回默认 Mongo 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "alfred",
		Collection: "audit_journal",
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Providers:      map[string]ProviderEntry{},
		RoutingWeights: map[string][]RoutingWeightEntry{},
		DefaultTimeout: 2 * time.Minute,
		MaxRetries:     2,
	}
}

// DefaultWalletConfig 返回默认钱包配置
func DefaultWalletConfig() WalletConfig {
	return WalletConfig{
		DefaultAllowanceUnits: 100_0000, // 100 credits at Scale=10000
		ReservationTTL:        2 * time.Minute,
		JanitorInterval:       30 * time.Second,
		RolloverCheckInterval: time.Hour,
		RolloverPolicy:        "none",
		CarryCapUnits:         0,
		DailyTransferCapUnits: 50_0000,
	}
}

// DefaultGuardrailsConfig 返回默认护栏限制
func DefaultGuardrailsConfig() GuardrailsConfig {
	return GuardrailsConfig{
		MaxOutputTokens:      8192,
		MaxResponseBytes:     4 << 20,
		RepetitionWindow:     60,
		RepetitionMaxRepeats: 3,
	}
}

// DefaultCacheConfig 返回默认语义缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:             true,
		SimilarityThreshold: 0.97,
		PerTenantByteBudget: 16 << 20,
		TTL:                 10 * time.Minute,
		EmbeddingDim:        256,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "alfred",
		SampleRate:   0.1,
	}
}
