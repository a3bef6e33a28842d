// Package config builds one immutable Config value at boot, the same
// viper-backed, env-prefixed idiom the teacher uses, generalized to the
// supervisor's configuration keys. "Global mutable state" never reappears
// after Load returns — the Config value is passed down, not read back from
// viper's package-level globals.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is every recognized key from spec §6, grouped by the subsystem
// that consumes it.
type Config struct {
	Server   ServerConfig
	Bus      BusConfig
	Resource ResourceConfig
	Worker   WorkerConfig
	Output   OutputConfig
	Retry    RetryConfig
	Retention RetentionConfig
	Metrics  MetricsConfig
	RateLimit RateLimitConfig
	Redis    RedisConfig
	Auth     AuthConfig
	LogLevel string
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type BusConfig struct {
	MaxListenersPerEvent  int
	MaxTotalSubscriptions int
	RequestTimeout        time.Duration
	CleanupInterval       time.Duration
}

type ResourceConfig struct {
	CPUCoresReserved int
	MemoryReserve    int64
	MonitorInterval  time.Duration
	MaxCPUPercent    float64
	MinMemoryBytes   int64
}

type WorkerConfig struct {
	DefaultTimeout  time.Duration
	MaxTimeout      time.Duration
	KillGracePeriod time.Duration
	MinSpawnDelay   time.Duration
	SpawnBackoff    time.Duration
}

type OutputConfig struct {
	MaxOutputBuffer           int64
	FileStorageThresholdBytes int64
}

type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

type RetentionConfig struct {
	TaskRetentionDays int
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type RateLimitConfig struct {
	RequestsPerSecond int
}

// RedisConfig configures the optional external fan-out bridge. Addr is
// empty by default: the supervisor runs with no Redis dependency at all
// unless an operator points it at one for a second observer process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig gates the delegation surface. Disabled by default so a local
// supervisor boots with no bearer token or API key in hand; an operator
// turns it on once JWTSecret/APIKeys are provisioned. APIKeys (plus a
// valid JWT) unlock /v1 task delegation; OperatorAPIKeys is a disjoint
// credential set that alone unlocks /admin.
type AuthConfig struct {
	Enabled         bool
	JWTSecret       string
	APIKeys         map[string]bool
	OperatorAPIKeys map[string]bool
}

// Load mirrors the teacher's Load(): optional YAML file, SUPERVISOR_-prefixed
// env overrides, and defaults for every key so the process boots with no
// configuration present at all.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/supervisor")

	setDefaults()

	viper.SetEnvPrefix("SUPERVISOR")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readtimeout", 15*time.Second)
	viper.SetDefault("server.writetimeout", 15*time.Second)
	viper.SetDefault("server.idletimeout", 60*time.Second)

	viper.SetDefault("bus.maxlistenersperevent", 100)
	viper.SetDefault("bus.maxtotalsubscriptions", 1000)
	viper.SetDefault("bus.requesttimeout", 5*time.Second)
	viper.SetDefault("bus.cleanupinterval", 60*time.Second)

	viper.SetDefault("resource.cpucoresreserved", 0)
	viper.SetDefault("resource.memoryreserve", int64(0))
	viper.SetDefault("resource.monitorinterval", 5*time.Second)
	viper.SetDefault("resource.maxcpupercent", 80.0)
	viper.SetDefault("resource.minmemorybytes", int64(1<<30))

	viper.SetDefault("worker.defaulttimeout", 30*time.Minute)
	viper.SetDefault("worker.maxtimeout", time.Hour)
	viper.SetDefault("worker.killgraceperiod", 5*time.Second)
	viper.SetDefault("worker.minspawndelay", 10*time.Second)
	viper.SetDefault("worker.spawnbackoff", time.Second)

	viper.SetDefault("output.maxoutputbuffer", int64(10*1024*1024))
	viper.SetDefault("output.filestoragethresholdbytes", int64(102400))

	viper.SetDefault("retry.initialdelay", time.Second)
	viper.SetDefault("retry.maxdelay", 30*time.Second)

	viper.SetDefault("retention.taskretentiondays", 7)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("ratelimit.requestspersecond", 50)

	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwtsecret", "")
	viper.SetDefault("auth.apikeys", map[string]bool{})
	viper.SetDefault("auth.operatorapikeys", map[string]bool{})

	viper.SetDefault("loglevel", "info")
}
