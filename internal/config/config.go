package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Stream       StreamConfig       `json:"stream"`
	Subscription SubscriptionConfig `json:"subscription"`
	Processor    ProcessorConfig    `json:"processor"`
	Scene        SceneConfig        `json:"scene"`
	MQTT         MQTTConfig         `json:"mqtt"`
	Postgres     PostgresConfig     `json:"postgres"`
	InfluxDB     InfluxConfig       `json:"influxdb"`
	Logger       LoggerConfig       `json:"logger"`
	Service      ServiceConfig      `json:"service"`
}

type StreamConfig struct {
	Host                 string        `json:"host"`
	Port                 int           `json:"port"`
	Path                 string        `json:"path"`
	ConnectTimeout       time.Duration `json:"connect_timeout"`
	SubscribeDelay       time.Duration `json:"subscribe_delay"`
	HeartbeatTimeout     time.Duration `json:"heartbeat_timeout"`
	DisconnectTimeout    time.Duration `json:"disconnect_timeout"`
	ReconnectBase        time.Duration `json:"reconnect_base"`
	ReconnectCap         time.Duration `json:"reconnect_cap"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts"`
	RedirectMode         string        `json:"redirect_mode"`
	SourceID             string        `json:"source_id"`
}

func (c StreamConfig) URL() string {
	return fmt.Sprintf("ws://%s:%d%s", c.Host, c.Port, c.Path)
}

type SubscriptionConfig struct {
	RootZoneID       int           `json:"root_zone_id"`
	MaxDevices       int           `json:"max_devices_per_subscription"`
	MaxSubscriptions int           `json:"max_subscriptions"`
	ZoneCacheTTL     time.Duration `json:"zone_cache_ttl"`
}

type ProcessorConfig struct {
	SanityBound     float64       `json:"sanity_bound"`
	HistoryLength   int           `json:"history_length"`
	StaleAge        time.Duration `json:"stale_age"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
	RateWindow      time.Duration `json:"rate_window"`
}

type SceneConfig struct {
	TrailsEnabled bool          `json:"trails_enabled"`
	MoveDuration  time.Duration `json:"move_duration"`
	SyncInterval  time.Duration `json:"sync_interval"`
	StatsInterval time.Duration `json:"stats_interval"`
	Selection     string        `json:"selection"`
}

type MQTTConfig struct {
	Host                 string        `json:"host"`
	Port                 int           `json:"port"`
	Username             string        `json:"username"`
	Password             string        `json:"password"`
	ClientID             string        `json:"client_id"`
	BaseTopic            string        `json:"base_topic"`
	QoS                  byte          `json:"qos"`
	KeepAlive            time.Duration `json:"keep_alive"`
	AutoReconnect        bool          `json:"auto_reconnect"`
	MaxReconnectInterval time.Duration `json:"max_reconnect_interval"`
	CleanSession         bool          `json:"clean_session"`
}

func (c MQTTConfig) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Dsn      string `json:"dsn"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
	TimeZone string `json:"timezone"`
}

type InfluxConfig struct {
	URL           string `json:"url"`
	Token         string `json:"token"`
	Organization  string `json:"organization"`
	Bucket        string `json:"bucket"`
	BatchSize     int    `json:"batch_size"`
	FlushInterval int    `json:"flush_interval_seconds"`
}

type LoggerConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type ServiceConfig struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		Stream: StreamConfig{
			Host:                 getEnv("STREAM_HOST", "localhost"),
			Port:                 getEnvAsInt("STREAM_PORT", 8002),
			Path:                 getEnv("STREAM_PATH", "/ws/RealTimeManager"),
			ConnectTimeout:       getEnvAsDuration("STREAM_CONNECT_TIMEOUT", "10s"),
			SubscribeDelay:       getEnvAsDuration("STREAM_SUBSCRIBE_DELAY", "100ms"),
			HeartbeatTimeout:     getEnvAsDuration("STREAM_HEARTBEAT_TIMEOUT", "35s"),
			DisconnectTimeout:    getEnvAsDuration("STREAM_DISCONNECT_TIMEOUT", "5s"),
			ReconnectBase:        getEnvAsDuration("STREAM_RECONNECT_BASE", "1s"),
			ReconnectCap:         getEnvAsDuration("STREAM_RECONNECT_CAP", "30s"),
			MaxReconnectAttempts: getEnvAsInt("STREAM_MAX_RECONNECT_ATTEMPTS", 10),
			RedirectMode:         getEnv("STREAM_REDIRECT_MODE", "secondary"),
			SourceID:             getEnv("STREAM_SOURCE_ID", "trackd"),
		},
		Subscription: SubscriptionConfig{
			RootZoneID:       getEnvAsInt("SUBSCRIPTION_ROOT_ZONE_ID", 1),
			MaxDevices:       getEnvAsInt("SUBSCRIPTION_MAX_DEVICES", 50),
			MaxSubscriptions: getEnvAsInt("SUBSCRIPTION_MAX_REQUESTS", 15),
			ZoneCacheTTL:     getEnvAsDuration("SUBSCRIPTION_ZONE_CACHE_TTL", "5m"),
		},
		Processor: ProcessorConfig{
			SanityBound:     getEnvAsFloat("PROCESSOR_SANITY_BOUND", 1000),
			HistoryLength:   getEnvAsInt("PROCESSOR_HISTORY_LENGTH", 50),
			StaleAge:        getEnvAsDuration("PROCESSOR_STALE_AGE", "5m"),
			CleanupInterval: getEnvAsDuration("PROCESSOR_CLEANUP_INTERVAL", "60s"),
			RateWindow:      getEnvAsDuration("PROCESSOR_RATE_WINDOW", "10s"),
		},
		Scene: SceneConfig{
			TrailsEnabled: getEnvAsBool("SCENE_TRAILS_ENABLED", true),
			MoveDuration:  getEnvAsDuration("SCENE_MOVE_DURATION", "500ms"),
			SyncInterval:  getEnvAsDuration("SCENE_SYNC_INTERVAL", "1s"),
			StatsInterval: getEnvAsDuration("SCENE_STATS_INTERVAL", "10s"),
			Selection:     getEnv("SCENE_SELECTION", "all"),
		},
		MQTT: MQTTConfig{
			Host:                 getEnv("MQTT_HOST", "localhost"),
			Port:                 getEnvAsInt("MQTT_PORT", 1883),
			Username:             getEnv("MQTT_USERNAME", ""),
			Password:             getEnv("MQTT_PASSWORD", ""),
			ClientID:             getEnv("MQTT_CLIENT_ID", "rtls-stream"),
			BaseTopic:            getEnv("MQTT_BASE_TOPIC", "rtls/viz"),
			QoS:                  byte(getEnvAsInt("MQTT_QOS", 0)),
			KeepAlive:            getEnvAsDuration("MQTT_KEEP_ALIVE", "60s"),
			AutoReconnect:        getEnvAsBool("MQTT_AUTO_RECONNECT", true),
			MaxReconnectInterval: getEnvAsDuration("MQTT_MAX_RECONNECT_INTERVAL", "10s"),
			CleanSession:         getEnvAsBool("MQTT_CLEAN_SESSION", true),
		},
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Database: getEnv("POSTGRES_DATABASE", "rtls_registry"),
			SSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),
			TimeZone: getEnv("POSTGRES_TIMEZONE", "UTC"),
		},
		InfluxDB: InfluxConfig{
			URL:           getEnv("INFLUXDB_URL", "http://localhost:8086"),
			Token:         getEnv("INFLUXDB_TOKEN", ""),
			Organization:  getEnv("INFLUXDB_ORG", "rtls_stream"),
			Bucket:        getEnv("INFLUXDB_BUCKET", "tag_stats"),
			BatchSize:     getEnvAsInt("INFLUXDB_BATCH_SIZE", 100),
			FlushInterval: getEnvAsInt("INFLUXDB_FLUSH_INTERVAL", 10),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Service: ServiceConfig{
			Name:    getEnv("SERVICE_NAME", "trackd"),
			Version: getEnv("SERVICE_VERSION", "1.0.0"),
		},
	}

	baseTopic, found := strings.CutSuffix(config.MQTT.BaseTopic, "/")
	if found {
		config.MQTT.BaseTopic = baseTopic
	}

	config.Postgres.Dsn = fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		config.Postgres.Host, config.Postgres.Port, config.Postgres.User,
		config.Postgres.Password, config.Postgres.Database,
		func() string {
			if config.Postgres.SSLMode == "false" || config.Postgres.SSLMode == "" {
				return "disable"
			}
			return config.Postgres.SSLMode
		}(),
		config.Postgres.TimeZone,
	)

	return config, config.validate()
}

func (c *Config) validate() error {
	if c.Stream.Host == "" {
		return fmt.Errorf("STREAM_HOST has to be set")
	}
	if c.Stream.ReconnectBase <= 0 || c.Stream.ReconnectCap < c.Stream.ReconnectBase {
		return fmt.Errorf("invalid reconnect backoff window: base %s, cap %s",
			c.Stream.ReconnectBase, c.Stream.ReconnectCap)
	}
	if mode := c.Stream.RedirectMode; mode != "secondary" && mode != "replace" {
		return fmt.Errorf("STREAM_REDIRECT_MODE must be 'secondary' or 'replace', got %q", mode)
	}
	if c.Subscription.MaxDevices <= 0 {
		return fmt.Errorf("SUBSCRIPTION_MAX_DEVICES must be positive")
	}
	if c.Processor.HistoryLength <= 0 {
		return fmt.Errorf("PROCESSOR_HISTORY_LENGTH must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
