// Package config loads the daemon configuration from an optional file and
// VFD_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/alapierre/go-tra-vfd/vfd"
	"github.com/alapierre/go-tra-vfd/vfd/keys"
	"github.com/alapierre/go-tra-vfd/vfd/queue"
	"github.com/go-faster/errors"
	"github.com/spf13/viper"
)

const envPrefix = "VFD"

type Config struct {
	Env string `mapstructure:"env"`
	// BaseURL overrides the URL of Env, e.g. for a local simulator
	BaseURL string `mapstructure:"base_url"`

	Credential Credential `mapstructure:"credential"`
	Database   Database   `mapstructure:"database"`
	HTTP       HTTP       `mapstructure:"http"`
	Token      Token      `mapstructure:"token"`
	Queue      Queue      `mapstructure:"queue"`
	ZReport    ZReport    `mapstructure:"zreport"`
	Server     Server     `mapstructure:"server"`
	Log        Log        `mapstructure:"log"`
}

type Credential struct {
	KeyFile     string `mapstructure:"key_file"`
	KeyPassword string `mapstructure:"key_password"`
	CertFile    string `mapstructure:"cert_file"`
	CertSerial  string `mapstructure:"cert_serial"`
	TIN         string `mapstructure:"tin"`
	CertKey     string `mapstructure:"cert_key"`
}

type Database struct {
	Path          string        `mapstructure:"path"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
}

type HTTP struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	ClientName string        `mapstructure:"client_name"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	RateBurst  int           `mapstructure:"rate_burst"`
}

type Token struct {
	RefreshSkew time.Duration `mapstructure:"refresh_skew"`
}

type Queue struct {
	Workers           int           `mapstructure:"workers"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	RetryStrategy     string        `mapstructure:"retry_strategy"`
	RetryInterval     time.Duration `mapstructure:"retry_interval"`
	RetryMaxInterval  time.Duration `mapstructure:"retry_max_interval"`
	RetryJitter       float64       `mapstructure:"retry_jitter"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	PermanentAckCodes []string      `mapstructure:"permanent_ack_codes"`
}

type ZReport struct {
	Enabled       bool          `mapstructure:"enabled"`
	At            string        `mapstructure:"at"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	Header        []string      `mapstructure:"header"`
	User          string        `mapstructure:"user"`
	FWVersion     string        `mapstructure:"fw_version"`
	FWChecksum    string        `mapstructure:"fw_checksum"`
}

type Server struct {
	Addr string `mapstructure:"addr"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"env":      "test",
	"base_url": "",

	"credential.key_file":     "",
	"credential.key_password": "",
	"credential.cert_file":    "",
	"credential.cert_serial":  "",
	"credential.tin":          "",
	"credential.cert_key":     "",

	"database.path":           "vfd.db",
	"database.slow_threshold": 200 * time.Millisecond,

	"http.timeout":     vfd.DefaultTimeout,
	"http.client_name": vfd.DefaultClientName,
	"http.rate_limit":  0.0,
	"http.rate_burst":  1,

	"token.refresh_skew": time.Minute,

	"queue.workers":             2,
	"queue.poll_interval":       time.Second,
	"queue.retry_strategy":      string(queue.StrategyFixed),
	"queue.retry_interval":      5 * time.Second,
	"queue.retry_max_interval":  5 * time.Minute,
	"queue.retry_jitter":        0.0,
	"queue.max_attempts":        20,
	"queue.permanent_ack_codes": []string{},

	"zreport.enabled":        true,
	"zreport.at":             "23:50",
	"zreport.retry_interval": 5 * time.Minute,
	"zreport.header":         []string{},
	"zreport.user":           "",
	"zreport.fw_version":     "",
	"zreport.fw_checksum":    "",

	"server.addr": "127.0.0.1:8089",

	"log.level":  "info",
	"log.format": "text",
}

// Load reads file when not empty, then applies VFD_* variables, e.g.
// VFD_CREDENTIAL_TIN or VFD_QUEUE_WORKERS.
func Load(file string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", file)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.Environment(); err != nil {
		return err
	}
	if _, err := c.ZReportAt(); err != nil {
		return err
	}
	switch queue.Strategy(c.Queue.RetryStrategy) {
	case queue.StrategyFixed, queue.StrategyExponential:
	default:
		return errors.Errorf("invalid queue.retry_strategy %q (allowed: fixed, exponential)", c.Queue.RetryStrategy)
	}
	if c.Queue.RetryJitter < 0 || c.Queue.RetryJitter > 1 {
		return errors.Errorf("queue.retry_jitter must be within 0..1, got %v", c.Queue.RetryJitter)
	}
	return nil
}

func (c *Config) Environment() (vfd.Environment, error) {
	var env vfd.Environment
	if err := env.UnmarshalText([]byte(c.Env)); err != nil {
		return env, err
	}
	return env, nil
}

// ZReportAt daily run time as an offset from midnight.
func (c *Config) ZReportAt() (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(c.ZReport.At))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid zreport.at %q, expected HH:MM", c.ZReport.At)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// KeyOptions key material locations. Registration identifiers come from
// the local store, not from configuration.
func (c *Config) KeyOptions() keys.Options {
	return keys.Options{
		KeyFile:     c.Credential.KeyFile,
		KeyPassword: c.Credential.KeyPassword,
		CertFile:    c.Credential.CertFile,
		CertSerial:  c.Credential.CertSerial,
		TIN:         c.Credential.TIN,
		CertKey:     c.Credential.CertKey,
	}
}

func (c *Config) RetryPolicy() queue.RetryPolicy {
	return queue.RetryPolicy{
		Strategy:          queue.Strategy(c.Queue.RetryStrategy),
		Interval:          c.Queue.RetryInterval,
		MaxInterval:       c.Queue.RetryMaxInterval,
		Jitter:            c.Queue.RetryJitter,
		MaxAttempts:       c.Queue.MaxAttempts,
		PermanentAckCodes: c.Queue.PermanentAckCodes,
	}
}
