package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Sim      SimConfig      `mapstructure:"sim"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Security SecurityConfig `mapstructure:"security"`
}

type ServerConfig struct {
	Port  int  `mapstructure:"port"`
	Debug bool `mapstructure:"debug"`
	// AdminKey guards token issuance. A value starting with "$2" is treated
	// as a bcrypt hash.
	AdminKey        string        `mapstructure:"admin_key"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type EngineConfig struct {
	TickMs         int    `mapstructure:"tick_ms"`
	MaxGuardErrors int    `mapstructure:"max_guard_errors"`
	RolesDir       string `mapstructure:"roles_dir"`
	TraceNodes     bool   `mapstructure:"trace_nodes"`
	// RecentDecisions bounds the per-agent decision list kept in the cache.
	RecentDecisions int `mapstructure:"recent_decisions"`
	// Builtins configures the roles built in Go, keyed by role name.
	Builtins map[string]RoleSettings `mapstructure:"builtins"`
}

// RoleSettings are the settings and toggles handed to a built-in role.
type RoleSettings struct {
	Settings map[string]float64 `mapstructure:"settings"`
	Toggles  map[string]bool    `mapstructure:"toggles"`
}

type SimConfig struct {
	Scenario string `mapstructure:"scenario"`
	// Speed scales simulated time per wall tick; 1 is real time.
	Speed float64 `mapstructure:"speed"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // memory | sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type JournalConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	// IdleTicks controls whether ticks without an attempt are journaled.
	IdleTicks bool `mapstructure:"idle_ticks"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the WebSocket origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// AdminIPs restricts the admin routes to these IPs or CIDR ranges.
	// An empty slice allows every address.
	AdminIPs []string `mapstructure:"admin_ips"`
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("engine.tick_ms", 100)
	v.SetDefault("engine.max_guard_errors", 8)
	v.SetDefault("engine.roles_dir", "./data/roles")
	v.SetDefault("engine.trace_nodes", false)
	v.SetDefault("engine.recent_decisions", 50)
	v.SetDefault("sim.scenario", "./data/scenarios/arena.yaml")
	v.SetDefault("sim.speed", 1.0)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/rotation.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.batch_size", 64)
	v.SetDefault("journal.flush_interval", "2s")
	v.SetDefault("journal.idle_ticks", false)
	v.SetDefault("security.jwt_ttl_h", "12h")
	v.SetDefault("security.rate_limit_rps", 50)
	v.SetDefault("security.rate_limit_burst", 100)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Tick returns the engine tick interval.
func (c EngineConfig) Tick() time.Duration {
	if c.TickMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.TickMs) * time.Millisecond
}
