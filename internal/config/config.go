package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "endurance.cfg.json"

// EnvPrefix prefixes environment overrides, e.g. ENDURANCE_MISSION_MAXITERATIONS.
const EnvPrefix = "ENDURANCE"

// MissionConfig holds the controller loop settings
type MissionConfig struct {
	MaxIterations       int
	ChargeBackoff       time.Duration
	InterIterationDelay time.Duration
	TakeoffSettle       time.Duration
	TelemetryTimeout    time.Duration
	Aggregation         string
}

// ChargeConfig holds the charge gate thresholds in volts
type ChargeConfig struct {
	StopVoltage   float64
	ResumeVoltage float64
}

// LandingConfig holds the landing retry policy settings
type LandingConfig struct {
	Attempts    int
	VerifyDelay time.Duration
}

// FlightConfig holds the motion command parameters
type FlightConfig struct {
	Redundancy      int
	TakeoffHeight   float64
	TakeoffDuration time.Duration
	TakeoffSettle   time.Duration
	ReturnHeight    float64
	ReturnDuration  time.Duration
	ReturnSettle    time.Duration
	LandHeight      float64
	LandDuration    time.Duration
	LandSettle      time.Duration
}

// TelemetryConfig holds the telemetry subscription settings
type TelemetryConfig struct {
	Period time.Duration
	Buffer int
}

// MQTTConfig holds the radio bridge broker settings
type MQTTConfig struct {
	Broker         string
	Port           int
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	CommandTimeout time.Duration
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	OutputDir    string
	DumpInterval time.Duration
}

// WebSocketConfig holds websocket storage backend settings
type WebSocketConfig struct {
	URL    string
	Secret string
}

// StorageConfig holds storage backend selection and settings
type StorageConfig struct {
	Type      string
	Memory    MemoryConfig
	SQLite    SQLiteConfig
	WebSocket WebSocketConfig
}

// DBConfig holds the postgres connection settings
type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// InfluxConfig holds the InfluxDB connection settings
type InfluxConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Protocol string
	Token    string
	Org      string
	Bucket   string
}

// GraylogConfig holds the GELF output settings
type GraylogConfig struct {
	Enabled bool
	Address string
}

// RedisConfig holds the status publisher settings
type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	Prefix   string
}

// MonitorConfig holds the status monitor settings
type MonitorConfig struct {
	Interval   time.Duration
	StatusFile string
}

// APIConfig holds the results server settings
type APIConfig struct {
	ServerURL string
	APIKey    string
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled        bool
	ServiceName    string
	BatchTimeout   time.Duration
	MetricInterval time.Duration
	Endpoint       string
	Insecure       bool
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")
	viper.SetDefault("site", "")
	viper.SetDefault("sitesDir", "./sites")
	viper.SetDefault("simulate", false)

	viper.SetDefault("mission.maxIterations", 50)
	viper.SetDefault("mission.chargeBackoff", "15s")
	viper.SetDefault("mission.interIterationDelay", "30s")
	viper.SetDefault("mission.takeoffSettle", "2s")
	viper.SetDefault("mission.telemetryTimeout", "10s")
	viper.SetDefault("mission.aggregation", "first")

	viper.SetDefault("charge.stopVoltage", 3.8)
	viper.SetDefault("charge.resumeVoltage", 3.9)

	viper.SetDefault("landing.attempts", 5)
	viper.SetDefault("landing.verifyDelay", "2s")

	viper.SetDefault("flight.redundancy", 5)
	viper.SetDefault("flight.takeoffHeight", 0.6)
	viper.SetDefault("flight.takeoffDuration", "2s")
	viper.SetDefault("flight.takeoffSettle", "3s")
	viper.SetDefault("flight.returnHeight", 0.1)
	viper.SetDefault("flight.returnDuration", "5s")
	viper.SetDefault("flight.returnSettle", "6s")
	viper.SetDefault("flight.landHeight", 0.0)
	viper.SetDefault("flight.landDuration", "1s")
	viper.SetDefault("flight.landSettle", "1500ms")

	viper.SetDefault("telemetry.period", "500ms")
	viper.SetDefault("telemetry.buffer", 64)

	viper.SetDefault("mqtt.broker", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.clientId", "endurance")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.topicPrefix", "fleet")
	viper.SetDefault("mqtt.commandTimeout", "5s")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./runs")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.outputDir", "./runs")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.websocket.url", "")
	viper.SetDefault("storage.websocket.secret", "")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "endurance")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "swarm-qa")
	viper.SetDefault("influx.bucket", "endurance")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.prefix", "endurance")

	viper.SetDefault("monitor.interval", "1s")
	viper.SetDefault("monitor.statusFile", "./logs/status.json")

	viper.SetDefault("api.serverUrl", "")
	viper.SetDefault("api.apiKey", "")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "endurance")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.metricInterval", "30s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. Defaults and
// environment overrides stay in effect when the file cannot be read.
func Load(configDir string) error {
	setDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// BindFlags registers the command line flags on fs and binds them to their
// config keys. Flags win over file and environment values when set.
func BindFlags(fs *pflag.FlagSet) error {
	fs.String("site", "", "site manifest name (sites/<site>.toml)")
	fs.String("sites-dir", "", "directory holding site manifests")
	fs.Int("iterations", 0, "maximum number of mission iterations")
	fs.Bool("simulate", false, "fly a simulated fleet instead of the radio bridge")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("storage", "", "storage backend (memory, sqlite, postgres, websocket)")

	bindings := map[string]string{
		"site":                  "site",
		"sitesDir":              "sites-dir",
		"mission.maxIterations": "iterations",
		"simulate":              "simulate",
		"logLevel":              "log-level",
		"storage.type":          "storage",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// GetMissionConfig returns the controller loop settings.
func GetMissionConfig() MissionConfig {
	return MissionConfig{
		MaxIterations:       viper.GetInt("mission.maxIterations"),
		ChargeBackoff:       viper.GetDuration("mission.chargeBackoff"),
		InterIterationDelay: viper.GetDuration("mission.interIterationDelay"),
		TakeoffSettle:       viper.GetDuration("mission.takeoffSettle"),
		TelemetryTimeout:    viper.GetDuration("mission.telemetryTimeout"),
		Aggregation:         viper.GetString("mission.aggregation"),
	}
}

// GetChargeConfig returns the charge gate thresholds.
func GetChargeConfig() ChargeConfig {
	return ChargeConfig{
		StopVoltage:   viper.GetFloat64("charge.stopVoltage"),
		ResumeVoltage: viper.GetFloat64("charge.resumeVoltage"),
	}
}

// GetLandingConfig returns the landing retry settings.
func GetLandingConfig() LandingConfig {
	return LandingConfig{
		Attempts:    viper.GetInt("landing.attempts"),
		VerifyDelay: viper.GetDuration("landing.verifyDelay"),
	}
}

// GetFlightConfig returns the motion command parameters.
func GetFlightConfig() FlightConfig {
	return FlightConfig{
		Redundancy:      viper.GetInt("flight.redundancy"),
		TakeoffHeight:   viper.GetFloat64("flight.takeoffHeight"),
		TakeoffDuration: viper.GetDuration("flight.takeoffDuration"),
		TakeoffSettle:   viper.GetDuration("flight.takeoffSettle"),
		ReturnHeight:    viper.GetFloat64("flight.returnHeight"),
		ReturnDuration:  viper.GetDuration("flight.returnDuration"),
		ReturnSettle:    viper.GetDuration("flight.returnSettle"),
		LandHeight:      viper.GetFloat64("flight.landHeight"),
		LandDuration:    viper.GetDuration("flight.landDuration"),
		LandSettle:      viper.GetDuration("flight.landSettle"),
	}
}

// GetTelemetryConfig returns the telemetry subscription settings.
func GetTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Period: viper.GetDuration("telemetry.period"),
		Buffer: viper.GetInt("telemetry.buffer"),
	}
}

// GetMQTTConfig returns the radio bridge broker settings.
func GetMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:         viper.GetString("mqtt.broker"),
		Port:           viper.GetInt("mqtt.port"),
		ClientID:       viper.GetString("mqtt.clientId"),
		Username:       viper.GetString("mqtt.username"),
		Password:       viper.GetString("mqtt.password"),
		TopicPrefix:    viper.GetString("mqtt.topicPrefix"),
		CommandTimeout: viper.GetDuration("mqtt.commandTimeout"),
	}
}

// GetStorageConfig returns the storage backend configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			OutputDir:    viper.GetString("storage.sqlite.outputDir"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		WebSocket: WebSocketConfig{
			URL:    viper.GetString("storage.websocket.url"),
			Secret: viper.GetString("storage.websocket.secret"),
		},
	}
}

// GetDBConfig returns the postgres connection settings.
func GetDBConfig() DBConfig {
	return DBConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// GetInfluxConfig returns the InfluxDB connection settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetGraylogConfig returns the GELF output settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetRedisConfig returns the status publisher settings.
func GetRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:  viper.GetBool("redis.enabled"),
		Address:  viper.GetString("redis.address"),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
		Prefix:   viper.GetString("redis.prefix"),
	}
}

// GetMonitorConfig returns the status monitor settings.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:   viper.GetDuration("monitor.interval"),
		StatusFile: viper.GetString("monitor.statusFile"),
	}
}

// GetAPIConfig returns the results server settings.
func GetAPIConfig() APIConfig {
	return APIConfig{
		ServerURL: viper.GetString("api.serverUrl"),
		APIKey:    viper.GetString("api.apiKey"),
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:        viper.GetBool("otel.enabled"),
		ServiceName:    viper.GetString("otel.serviceName"),
		BatchTimeout:   viper.GetDuration("otel.batchTimeout"),
		MetricInterval: viper.GetDuration("otel.metricInterval"),
		Endpoint:       viper.GetString("otel.endpoint"),
		Insecure:       viper.GetBool("otel.insecure"),
	}
}
