package config

import "fmt"

// LeaderConfig configures the cluster registrar service ("leader",
// spec §4.2), loaded from leader_config.yaml then overlaid with env vars.
type LeaderConfig struct {
	DB DBConfig `yaml:",inline"`

	Host string `yaml:"host" env:"LEADER_HOST" envDefault:"0.0.0.0"`
	Port int    `yaml:"port" env:"LEADER_PORT" envDefault:"8000"`

	AliveTimeout  int64    `yaml:"alive_timeout" env:"ALIVE_TIMEOUT" envDefault:"15"`
	RequiredNodes []string `yaml:"required_nodes" env:"REQUIRED_NODES" envSeparator:","`

	MigrationsDir string `yaml:"migrations_dir" env:"MIGRATIONS_DIR" envDefault:"migrations/cluster"`
	ClusterConfig string `yaml:"cluster_config" env:"CLUSTER_CONFIG" envDefault:"cluster_config.yaml"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT" envDefault:"json"`
}

// ListenAddr returns the address the HTTP server should listen on.
func (c LeaderConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SignalingConfig configures the signaling hub service (spec §4.4).
type SignalingConfig struct {
	DB DBConfig `yaml:",inline"`

	Host string `yaml:"host" env:"SIGNALING_HOST" envDefault:"0.0.0.0"`
	Port int    `yaml:"port" env:"SIGNALING_PORT" envDefault:"8100"`

	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB" envDefault:"0"`

	SubscriberTimeout int64 `yaml:"subscriber_timeout" env:"SUBSCRIBER_TIMEOUT" envDefault:"30"`

	LeaderAddr string `yaml:"leader_addr" env:"LEADER_ADDR" envDefault:"http://localhost:8000"`

	MigrationsDir string `yaml:"migrations_dir" env:"MIGRATIONS_DIR" envDefault:"migrations/signaling"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT" envDefault:"json"`
}

// ListenAddr returns the address the HTTP server should listen on.
func (c SignalingConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OrbConfig configures the object store service (spec §4.6, §4.7).
type OrbConfig struct {
	DB DBConfig `yaml:",inline"`

	Host    string `yaml:"host" env:"ORB_HOST" envDefault:"0.0.0.0"`
	Port    int    `yaml:"port" env:"ORB_PORT" envDefault:"8200"`
	RPCPort int    `yaml:"rpc_port" env:"ORB_RPC_PORT" envDefault:"8201"`

	LeaderAddr    string `yaml:"leader_addr" env:"LEADER_ADDR" envDefault:"http://localhost:8000"`
	SignalingAddr string `yaml:"signaling_addr" env:"SIGNALING_ADDR" envDefault:"http://localhost:8100"`

	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB" envDefault:"0"`

	MigrationsDir string `yaml:"migrations_dir" env:"MIGRATIONS_DIR" envDefault:"migrations/orb"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT" envDefault:"json"`
}

// ListenAddr returns the address the HTTP server should listen on.
func (c OrbConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RPCListenAddr returns the address the net/rpc listener should bind to.
func (c OrbConfig) RPCListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.RPCPort)
}
