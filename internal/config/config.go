package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings such as
// "30s" or "1m" as well as bare nanosecond integers.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Config is the top-level SDK configuration.
type Config struct {
	// Endpoint is the base URL of the device web service,
	// e.g. "http://127.0.0.1/rws".
	Endpoint string `yaml:"endpoint"`

	Device    DeviceConfig    `yaml:"device"`
	Transport TransportConfig `yaml:"transport"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DeviceConfig controls device locking and dialog behavior.
type DeviceConfig struct {
	// The three unlock flags decide which locks taken at job start are
	// released when the last job finishes. They default to true; leaving a
	// lock held is the exception, for applications that manage the device
	// session themselves.
	SetBackMenuOnFinish     *bool `yaml:"set_back_menu_on_finish,omitempty"`
	UnlockPowerModeOnFinish *bool `yaml:"unlock_power_mode_on_finish,omitempty"`
	UnlockLogoutOnFinish    *bool `yaml:"unlock_logout_on_finish,omitempty"`

	// DisplayAlertDialog lets the SDK drive the system status dialog on
	// device-level errors.
	DisplayAlertDialog bool `yaml:"display_alert_dialog"`

	// InitRetry bounds the event-subscription retry loop at init time.
	InitRetry RetryConfig `yaml:"init_retry"`
}

// TransportConfig throttles the REST client.
type TransportConfig struct {
	// RequestsPerSecond and Burst feed the client rate limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`

	Timeout Duration `yaml:"timeout"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	Enabled          bool    `yaml:"enabled"`
	ExporterEndpoint string  `yaml:"exporter_endpoint"`
	Probability      float64 `yaml:"probability"`
}

// RetryConfig defines bounded retry behavior.
type RetryConfig struct {
	// MaxAttempts is how many times to retry before giving up.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// InitialWait is the initial backoff duration (e.g., 1s).
	InitialWait Duration `yaml:"initial_wait,omitempty"`

	// MaxWait is the upper bound for the backoff (e.g., 30s).
	MaxWait Duration `yaml:"max_wait,omitempty"`
}

// Default returns the configuration used when a field is absent from the
// loaded document.
func Default() *Config {
	yes := true
	return &Config{
		Endpoint: "http://127.0.0.1/rws",
		Device: DeviceConfig{
			SetBackMenuOnFinish:     &yes,
			UnlockPowerModeOnFinish: &yes,
			UnlockLogoutOnFinish:    &yes,
			DisplayAlertDialog:      true,
			InitRetry: RetryConfig{
				MaxAttempts: 5,
				InitialWait: Duration(time.Second),
				MaxWait:     Duration(30 * time.Second),
			},
		},
		Transport: TransportConfig{
			RequestsPerSecond: 10,
			Burst:             5,
			Timeout:           Duration(30 * time.Second),
		},
		Telemetry: TelemetryConfig{Probability: 1},
	}
}
