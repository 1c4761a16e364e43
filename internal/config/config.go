package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	Capture CaptureConfig `yaml:"capture"`
	Mapping MappingConfig `yaml:"mapping"`
	Report  ReportConfig  `yaml:"report"`
	Notify  NotifyConfig  `yaml:"notify"`
	Events  EventsConfig  `yaml:"events"`
	History HistoryConfig `yaml:"history"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	PublicBaseURL     string        `yaml:"public_base_url"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableSource bool   `yaml:"enable_source"`
}

// StorageConfig describes where survey data and served artifacts live.
type StorageConfig struct {
	Root      string `yaml:"root"`
	StaticDir string `yaml:"static_dir"`
	LogsDir   string `yaml:"logs_dir"`
}

// CaptureConfig configures the camera polling loop.
type CaptureConfig struct {
	Enabled          bool          `yaml:"enabled"`
	ShotURL          string        `yaml:"shot_url"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	VideoFPS         int           `yaml:"video_fps"`
	// MaxVideoBytes caps one video file. AVI cannot exceed 4 GiB.
	MaxVideoBytes int64 `yaml:"max_video_bytes"`
}

// MappingConfig configures the external photogrammetry tool and result handling.
type MappingConfig struct {
	DockerBinary   string        `yaml:"docker_binary"`
	Image          string        `yaml:"image"`
	ExtraArgs      []string      `yaml:"extra_args"`
	Timeout        time.Duration `yaml:"timeout"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	SimulatedDelay time.Duration `yaml:"simulated_delay"`
	SimulateVolume bool          `yaml:"simulate_volume"`
	VolumeMin      float64       `yaml:"volume_min"`
	VolumeMax      float64       `yaml:"volume_max"`
	AssumedHeight  float64       `yaml:"assumed_height"`
}

// ReportConfig holds the fixed metadata printed on every report.
type ReportConfig struct {
	Organization string `yaml:"organization"`
	Methodology  string `yaml:"methodology"`
	SurveyOutput string `yaml:"survey_output"`
	LogoPath     string `yaml:"logo_path"`
}

// NotifyConfig holds notification channel configuration.
type NotifyConfig struct {
	Email    EmailConfig    `yaml:"email"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
}

// EmailConfig holds SMTP configuration. Credentials usually come from the environment.
type EmailConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	FromName     string        `yaml:"from_name"`
	Timeout      time.Duration `yaml:"timeout"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// WhatsAppConfig holds messaging provider configuration.
type WhatsAppConfig struct {
	APIBaseURL         string        `yaml:"api_base_url"`
	AccountSID         string        `yaml:"account_sid"`
	AuthToken          string        `yaml:"auth_token"`
	From               string        `yaml:"from"`
	DefaultCountryCode string        `yaml:"default_country_code"`
	Timeout            time.Duration `yaml:"timeout"`
	RetryBackoff       time.Duration `yaml:"retry_backoff"`
}

// EventsConfig configures job lifecycle event publishing. Both sinks are optional.
type EventsConfig struct {
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
	WebhookRetries int           `yaml:"webhook_retries"`
	AMQP           AMQPConfig    `yaml:"amqp"`
}

// AMQPConfig holds the broker settings for lifecycle events.
type AMQPConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

// HistoryConfig selects the job run history backend.
type HistoryConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite
	DSN    string `yaml:"dsn"`
}

// envOverrides are the environment variables that win over the config file.
type envOverrides struct {
	Addr               string `envconfig:"API_ADDR"`
	PublicBaseURL      string `envconfig:"PUBLIC_BASE_URL"`
	LogLevel           string `envconfig:"LOG_LEVEL"`
	ShotURL            string `envconfig:"CAMERA_SHOT_URL"`
	EmailAddress       string `envconfig:"EMAIL_ADDRESS"`
	EmailPassword      string `envconfig:"EMAIL_PASSWORD"`
	TwilioAccountSID   string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken    string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioWhatsAppFrom string `envconfig:"TWILIO_WHATSAPP_NUMBER"`
	AMQPURL            string `envconfig:"AMQP_URL"`
	WebhookURL         string `envconfig:"EVENTS_WEBHOOK_URL"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":5000",
			PublicBaseURL:     "http://127.0.0.1:5000",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   20 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Storage: StorageConfig{
			Root:      "storage",
			StaticDir: "static",
			LogsDir:   "logs",
		},
		Capture: CaptureConfig{
			Enabled:          true,
			ShotURL:          "http://10.75.165.104:8080/shot.jpg",
			FetchTimeout:     5 * time.Second,
			RetryBackoff:     time.Second,
			SnapshotInterval: 2 * time.Second,
			VideoFPS:         20,
			MaxVideoBytes:    1 << 30,
		},
		Mapping: MappingConfig{
			DockerBinary:   "docker",
			Image:          "opendronemap/odm",
			ExtraArgs:      []string{"--fast-orthophoto", "--resize-to", "1200", "--matcher-neighbors", "4"},
			Timeout:        30 * time.Minute,
			ProbeTimeout:   10 * time.Second,
			SimulatedDelay: 3 * time.Second,
			SimulateVolume: true,
			VolumeMin:      450,
			VolumeMax:      1250,
			AssumedHeight:  5,
		},
		Report: ReportConfig{
			Organization: "Garuda Aerospace Pvt Ltd",
			Methodology:  "OpenDroneMap + AI",
			SurveyOutput: "DSM + Orthophoto + Volume",
			LogoPath:     "static/logo.png",
		},
		Notify: NotifyConfig{
			Email: EmailConfig{
				Host:         "smtp.gmail.com",
				Port:         465,
				FromName:     "Drone Mining Monitoring System",
				Timeout:      30 * time.Second,
				RetryBackoff: 2 * time.Second,
			},
			WhatsApp: WhatsAppConfig{
				APIBaseURL:         "https://api.twilio.com",
				DefaultCountryCode: "91",
				Timeout:            15 * time.Second,
				RetryBackoff:       2 * time.Second,
			},
		},
		Events: EventsConfig{
			WebhookTimeout: 10 * time.Second,
			WebhookRetries: 3,
			AMQP: AMQPConfig{
				Exchange:   "surveyd.events",
				RoutingKey: "mapping.job",
			},
		},
		History: HistoryConfig{
			Driver: "sqlite",
			DSN:    "surveyd.db",
		},
	}
}

// Load reads the configuration file on top of the defaults and applies
// environment overrides. An empty path yields defaults plus environment.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return err
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Server.Addr, env.Addr)
	set(&c.Server.PublicBaseURL, env.PublicBaseURL)
	set(&c.Logging.Level, env.LogLevel)
	set(&c.Capture.ShotURL, env.ShotURL)
	set(&c.Notify.Email.Username, env.EmailAddress)
	set(&c.Notify.Email.Password, env.EmailPassword)
	set(&c.Notify.WhatsApp.AccountSID, env.TwilioAccountSID)
	set(&c.Notify.WhatsApp.AuthToken, env.TwilioAuthToken)
	set(&c.Notify.WhatsApp.From, env.TwilioWhatsAppFrom)
	set(&c.Events.AMQP.URL, env.AMQPURL)
	set(&c.Events.WebhookURL, env.WebhookURL)
	return nil
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server addr is required")
	}
	if c.Storage.Root == "" {
		return errors.New("storage root is required")
	}
	if c.Storage.StaticDir == "" {
		return errors.New("storage static_dir is required")
	}

	if c.Capture.Enabled {
		if c.Capture.ShotURL == "" {
			return errors.New("capture shot_url is required when capture is enabled")
		}
		if c.Capture.SnapshotInterval <= 0 {
			return errors.New("capture snapshot_interval must be greater than 0")
		}
		if c.Capture.FetchTimeout <= 0 {
			return errors.New("capture fetch_timeout must be greater than 0")
		}
		if c.Capture.VideoFPS <= 0 {
			return errors.New("capture video_fps must be greater than 0")
		}
		if c.Capture.MaxVideoBytes <= 0 || c.Capture.MaxVideoBytes > math.MaxUint32 {
			return errors.New("capture max_video_bytes must be between 1 and 4294967295")
		}
	}

	if c.Mapping.Timeout <= 0 {
		return errors.New("mapping timeout must be greater than 0")
	}
	if c.Mapping.AssumedHeight <= 0 {
		return errors.New("mapping assumed_height must be greater than 0")
	}
	if c.Mapping.SimulateVolume && c.Mapping.VolumeMin >= c.Mapping.VolumeMax {
		return fmt.Errorf("mapping volume range is empty: [%g, %g]", c.Mapping.VolumeMin, c.Mapping.VolumeMax)
	}

	if c.Notify.Email.Port < 0 || c.Notify.Email.Port > 65535 {
		return fmt.Errorf("invalid smtp port: %d", c.Notify.Email.Port)
	}

	switch c.History.Driver {
	case "memory":
	case "sqlite":
		if c.History.DSN == "" {
			return errors.New("history dsn is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown history driver %q", c.History.Driver)
	}

	return nil
}
