package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	mu sync.RWMutex `yaml:"-"`

	Robot     RobotConfig     `yaml:"robot"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Shell     ShellConfig     `yaml:"shell"`
	Redis     RedisConfig     `yaml:"redis"`
	Messaging MessagingConfig `yaml:"messaging"`
	Database  DatabaseConfig  `yaml:"database"`
	Web       WebConfig       `yaml:"web"`
	Log       LogConfig       `yaml:"log"`
}

type RobotConfig struct {
	RobotName     string `yaml:"robot_name"`
	TeamName      string `yaml:"team_name"`
	StrictIndexes bool   `yaml:"strict_indexes"`
}

type SimulatorConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Autostart bool          `yaml:"autostart"`
}

// ShellConfig describes the remote robot and how its shell is read.
type ShellConfig struct {
	Address        string        `yaml:"address"         json:"address"`
	User           string        `yaml:"user"            json:"user"`
	Secret         string        `yaml:"secret"          json:"-"`
	Port           int           `yaml:"port"            json:"port"`
	Timeout        time.Duration `yaml:"timeout"         json:"timeout"`
	InitialCommand string        `yaml:"initial_command" json:"initial_command"`
	KnownHosts     string        `yaml:"known_hosts"     json:"known_hosts"`
	PollInterval   time.Duration `yaml:"poll_interval"   json:"poll_interval"`
	ReadBuffer     int           `yaml:"read_buffer"     json:"read_buffer"`
	JoinTimeout    time.Duration `yaml:"join_timeout"    json:"join_timeout"`
	RemoteScript   string        `yaml:"remote_script"   json:"remote_script"`
	LogPrefix      string        `yaml:"log_prefix"      json:"log_prefix"`
}

type RedisConfig struct {
	Address         string        `yaml:"address"`
	Password        string        `yaml:"password"`
	DB              int           `yaml:"db"`
	MirrorInterval  time.Duration `yaml:"mirror_interval"`
	SnapshotTTL     time.Duration `yaml:"snapshot_ttl"`
	TranscriptLines int64         `yaml:"transcript_lines"`
}

// MessagingConfig defines the messaging backend. An empty backend disables
// the telemetry bridge.
type MessagingConfig struct {
	Backend           string        `yaml:"backend"` // "mqtt", "kafka" or ""
	MQTT              MQTTConfig    `yaml:"mqtt"`
	Kafka             KafkaConfig   `yaml:"kafka"`
	TelemetryTopic    string        `yaml:"telemetry_topic"`
	CommandTopic      string        `yaml:"command_topic"`
	SnapshotTopic     string        `yaml:"snapshot_topic"`
	PublishInterval   time.Duration `yaml:"publish_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HubID             string        `yaml:"hub_id"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
}

// LogConfig enables a rotating log file when File is set.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func Defaults() *Config {
	return &Config{
		Robot: RobotConfig{
			RobotName: "Robot cool qui casse tout",
			TeamName:  "Pas encore ingénieur",
		},
		Simulator: SimulatorConfig{
			Interval: 100 * time.Millisecond,
		},
		Shell: ShellConfig{
			Address:      "PEI.local",
			User:         "admin",
			Secret:       "admin",
			Port:         22,
			Timeout:      10 * time.Second,
			PollInterval: 50 * time.Millisecond,
			ReadBuffer:   1024,
			JoinTimeout:  time.Second,
			RemoteScript: "test.py",
			LogPrefix:    "test_remote",
		},
		Redis: RedisConfig{
			MirrorInterval:  500 * time.Millisecond,
			SnapshotTTL:     10 * time.Second,
			TranscriptLines: 500,
		},
		Messaging: MessagingConfig{
			MQTT: MQTTConfig{
				Broker: "localhost",
				Port:   1883,
			},
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				GroupID: "telehub",
			},
			TelemetryTopic:    "telehub/telemetry",
			CommandTopic:      "telehub/commands",
			SnapshotTopic:     "telehub/snapshots",
			PublishInterval:   time.Second,
			HeartbeatInterval: 30 * time.Second,
			HubID:             "telehub",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "telehub.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "telehub",
				User:     "telehub",
				SSLMode:  "disable",
			},
		},
		Web: WebConfig{
			Host:          "0.0.0.0",
			Port:          8090,
			SessionSecret: "change-me-in-production",
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads a YAML config file. If the file doesn't exist, defaults are
// used. A .env file in the working directory is loaded first and TELEHUB_*
// variables override the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Shell.Address = getEnv("TELEHUB_SHELL_ADDRESS", c.Shell.Address)
	c.Shell.User = getEnv("TELEHUB_SHELL_USER", c.Shell.User)
	c.Shell.Secret = getEnv("TELEHUB_SHELL_SECRET", c.Shell.Secret)
	c.Redis.Address = getEnv("TELEHUB_REDIS_ADDRESS", c.Redis.Address)
	c.Redis.Password = getEnv("TELEHUB_REDIS_PASSWORD", c.Redis.Password)
	c.Web.SessionSecret = getEnv("TELEHUB_WEB_SESSION_SECRET", c.Web.SessionSecret)
	c.Database.Driver = getEnv("TELEHUB_DB_DRIVER", c.Database.Driver)
	c.Messaging.Backend = getEnv("TELEHUB_MESSAGING_BACKEND", c.Messaging.Backend)
	if port, err := strconv.Atoi(os.Getenv("TELEHUB_WEB_PORT")); err == nil {
		c.Web.Port = port
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ShellSettings returns a copy of the shell section under the read lock.
func (c *Config) ShellSettings() ShellConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Shell
}

// SetShellTarget updates the remote address and credentials, as done when
// an operator connects to a different robot from the dashboard.
func (c *Config) SetShellTarget(address, user, secret string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if address != "" {
		c.Shell.Address = address
	}
	if user != "" {
		c.Shell.User = user
	}
	if secret != "" {
		c.Shell.Secret = secret
	}
}

