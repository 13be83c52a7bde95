package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"govee-gateway/internal/decoder"
)

const (
	BackendBlueZ = "bluez"
	BackendHCI   = "hci"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	BLEBackend  string
	BLEAdapter  string
	BLEHCIIndex int

	ScanWindow       time.Duration
	ScanRestartDelay time.Duration
	Layout           decoder.Layout
	DedupWindow      time.Duration

	MQTTEnabled     bool
	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	MQTTTopicPrefix string

	KafkaBrokers []string
	KafkaTopic   string

	SQLitePath            string
	SQLiteDSN             string
	SQLiteMaxOpenConns    int
	SQLiteMaxIdleConns    int
	SQLiteConnMaxLifetime time.Duration
	SQLiteLogSQL          bool
}

// StorageEnabled reports whether readings are persisted to SQLite.
func (c Config) StorageEnabled() bool {
	return c.SQLitePath != "" || c.SQLiteDSN != ""
}

func LoadFromEnv() (Config, error) {
	appEnv := env("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(env("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	httpAddr, ok := os.LookupEnv("HTTP_ADDR")
	httpAddr = strings.TrimSpace(httpAddr)
	if !ok {
		httpAddr = ":8080"
	}

	backend := strings.ToLower(env("BLE_BACKEND", BackendBlueZ))
	switch backend {
	case BackendBlueZ, BackendHCI:
	default:
		return Config{}, fmt.Errorf("invalid BLE_BACKEND %q (allowed: bluez, hci)", backend)
	}
	hciIndex, err := envInt("BLE_HCI_INDEX", "0")
	if err != nil {
		return Config{}, err
	}

	scanWindow, err := envPositiveDuration("SCAN_WINDOW", "60s")
	if err != nil {
		return Config{}, err
	}
	restartDelay, err := envPositiveDuration("SCAN_RESTART_DELAY", "50ms")
	if err != nil {
		return Config{}, err
	}
	dedupWindow, err := envDuration("DEDUP_WINDOW", "10s")
	if err != nil {
		return Config{}, err
	}
	if dedupWindow < 0 {
		return Config{}, fmt.Errorf("DEDUP_WINDOW must not be negative, got %v", dedupWindow)
	}

	layout, err := loadLayout()
	if err != nil {
		return Config{}, err
	}

	mqttEnabled, err := envBool("MQTT_ENABLED", "false")
	if err != nil {
		return Config{}, err
	}
	mqttPort, err := envInt("MQTT_PORT", "1883")
	if err != nil {
		return Config{}, err
	}

	var kafkaBrokers []string
	for _, b := range strings.Split(env("KAFKA_BROKERS", ""), ",") {
		if b = strings.TrimSpace(b); b != "" {
			kafkaBrokers = append(kafkaBrokers, b)
		}
	}

	maxOpenConns, err := envInt("DB_MAX_OPEN_CONNS", "1")
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := envInt("DB_MAX_IDLE_CONNS", "1")
	if err != nil {
		return Config{}, err
	}
	connMaxLifetime, err := envDuration("DB_CONN_MAX_LIFETIME", "0s")
	if err != nil {
		return Config{}, err
	}
	logSQL, err := envBool("DB_LOG_SQL", "false")
	if err != nil {
		return Config{}, err
	}

	return Config{
		AppEnv:                appEnv,
		LogLevel:              level,
		HTTPAddr:              httpAddr,
		BLEBackend:            backend,
		BLEAdapter:            env("BLE_ADAPTER", "hci0"),
		BLEHCIIndex:           hciIndex,
		ScanWindow:            scanWindow,
		ScanRestartDelay:      restartDelay,
		Layout:                layout,
		DedupWindow:           dedupWindow,
		MQTTEnabled:           mqttEnabled,
		MQTTBroker:            env("MQTT_BROKER", "localhost"),
		MQTTPort:              mqttPort,
		MQTTClientID:          env("MQTT_CLIENT_ID", "govee-gateway"),
		MQTTTopicPrefix:       strings.TrimSuffix(env("MQTT_TOPIC_PREFIX", "govee"), "/"),
		KafkaBrokers:          kafkaBrokers,
		KafkaTopic:            env("KAFKA_TOPIC", "govee.readings"),
		SQLitePath:            env("SQLITE_PATH", ""),
		SQLiteDSN:             env("SQLITE_DSN", ""),
		SQLiteMaxOpenConns:    maxOpenConns,
		SQLiteMaxIdleConns:    maxIdleConns,
		SQLiteConnMaxLifetime: connMaxLifetime,
		SQLiteLogSQL:          logSQL,
	}, nil
}

func loadLayout() (decoder.Layout, error) {
	l := decoder.DefaultLayout()
	l.NamePrefix = env("DEVICE_NAME_PREFIX", decoder.DefaultNamePrefix)

	var err error
	if l.MarkerOffset, err = envInt("MARKER_OFFSET", strconv.Itoa(decoder.DefaultMarkerOffset)); err != nil {
		return l, err
	}
	markerStr := env("MARKER_VALUE", "0x00")
	marker, err := strconv.ParseUint(markerStr, 0, 8)
	if err != nil {
		return l, fmt.Errorf("invalid MARKER_VALUE %q: %w", markerStr, err)
	}
	l.MarkerValue = byte(marker)

	if l.Temperature.Offset, err = envInt("TEMPERATURE_OFFSET", strconv.Itoa(decoder.DefaultTemperatureOffset)); err != nil {
		return l, err
	}
	if l.Temperature.Length, err = envInt("TEMPERATURE_LENGTH", strconv.Itoa(decoder.DefaultFieldLength)); err != nil {
		return l, err
	}
	if l.Humidity.Offset, err = envInt("HUMIDITY_OFFSET", strconv.Itoa(decoder.DefaultHumidityOffset)); err != nil {
		return l, err
	}
	if l.Humidity.Length, err = envInt("HUMIDITY_LENGTH", strconv.Itoa(decoder.DefaultFieldLength)); err != nil {
		return l, err
	}

	order := strings.ToLower(env("FIELD_BYTE_ORDER", "little"))
	switch order {
	case "little", "le":
	case "big", "be":
		l.Temperature.BigEndian = true
		l.Humidity.BigEndian = true
	default:
		return l, fmt.Errorf("invalid FIELD_BYTE_ORDER %q (allowed: little, big)", order)
	}

	scaleStr := env("SCALE_DIVISOR", "100")
	if l.Scale, err = strconv.ParseFloat(scaleStr, 64); err != nil {
		return l, fmt.Errorf("invalid SCALE_DIVISOR %q: %w", scaleStr, err)
	}

	if err := l.Validate(); err != nil {
		return l, err
	}
	return l, nil
}

func env(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key, def string) (int, error) {
	s := env(key, def)
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func envBool(key, def string) (bool, error) {
	s := env(key, def)
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func envDuration(key, def string) (time.Duration, error) {
	s := env(key, def)
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func envPositiveDuration(key, def string) (time.Duration, error) {
	v, err := envDuration(key, def)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, v)
	}
	return v, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
