// Package config loads the bot configuration from YAML, TOML or JSON, applies
// defaults and environment overrides, and validates the result.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults used when a connection leaves a value unset.
const (
	DefaultProtocol       = "irc"
	DefaultPort           = 6667
	DefaultNick           = "PleaseNameMe"
	DefaultTimerMax       = 10
	DefaultMessagePenalty = 2
	DefaultBytesPenalty   = 120
	DefaultMaxLength      = 510
)

// Server is the remote endpoint of a connection
type Server struct {
	Host     string `yaml:"host" toml:"host" json:"host" validate:"required"`
	Port     int    `yaml:"port" toml:"port" json:"port" validate:"gt=0,lte=65535"`
	Password string `yaml:"password" toml:"password" json:"password"`
	TLS      bool   `yaml:"tls" toml:"tls" json:"tls"`
}

// Auth holds the credentials sent once registration completes
type Auth struct {
	Nick     string `yaml:"nick" toml:"nick" json:"nick"`
	Password string `yaml:"password" toml:"password" json:"password"`
}

// Buffer holds the flood control settings of the outbound queue.
// Durations are expressed in seconds. Unset penalties take their default,
// an explicit 0 is kept.
type Buffer struct {
	TimerMax       *int `yaml:"timer_max" toml:"timer_max" json:"timer_max" validate:"omitempty,gte=0"`
	MessagePenalty *int `yaml:"message_penalty" toml:"message_penalty" json:"message_penalty" validate:"omitempty,gte=0"`
	BytesPenalty   *int `yaml:"bytes_penalty" toml:"bytes_penalty" json:"bytes_penalty" validate:"omitempty,gte=0"`
	MaxLength      int  `yaml:"max_length" toml:"max_length" json:"max_length" validate:"gte=0"`
}

// Int returns a pointer to n, for the optional buffer settings
func Int(n int) *int {
	return &n
}

func valueOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// TimerMaxDuration returns how far ahead of now the flood timer may run
func (b Buffer) TimerMaxDuration() time.Duration {
	return time.Duration(valueOr(b.TimerMax, DefaultTimerMax)) * time.Second
}

// MessagePenaltyDuration returns the fixed cost of a single line
func (b Buffer) MessagePenaltyDuration() time.Duration {
	return time.Duration(valueOr(b.MessagePenalty, DefaultMessagePenalty)) * time.Second
}

// BytesPerSecond returns the number of bytes costing one extra second, 0 disables it
func (b Buffer) BytesPerSecond() int {
	return valueOr(b.BytesPenalty, DefaultBytesPenalty)
}

// Connection describes a single chat connection
type Connection struct {
	Name     string `yaml:"name" toml:"name" json:"name"`
	Protocol string `yaml:"protocol" toml:"protocol" json:"protocol" validate:"required"`
	Server   Server `yaml:"server" toml:"server" json:"server"`
	Nick     string `yaml:"nick" toml:"nick" json:"nick" validate:"required"`
	Auth     Auth   `yaml:"auth" toml:"auth" json:"auth"`
	Modes    string `yaml:"modes" toml:"modes" json:"modes"`

	// Notice sends private messages with NOTICE instead of PRIVMSG
	Notice   bool     `yaml:"notice" toml:"notice" json:"notice"`
	Channels []string `yaml:"channels" toml:"channels" json:"channels"`

	// Users maps a user mask (nick, !account or @host) to a comma separated group list
	Users map[string]string `yaml:"users" toml:"users" json:"users"`
	// Groups maps a group to a comma separated list of groups it inherits
	Groups map[string]string `yaml:"groups" toml:"groups" json:"groups"`

	Buffer Buffer `yaml:"buffer" toml:"buffer" json:"buffer"`

	// MaxNickRetries caps the underscore suffixes tried on nick collisions, 0 means unbounded
	MaxNickRetries int `yaml:"max_nick_retries" toml:"max_nick_retries" json:"max_nick_retries" validate:"gte=0"`
	// ConnectTimeout in seconds, 0 keeps the dialer default
	ConnectTimeout int  `yaml:"connect_timeout" toml:"connect_timeout" json:"connect_timeout" validate:"gte=0"`
	Debug          bool `yaml:"debug" toml:"debug" json:"debug"`
}

// ConnectTimeoutDuration returns the dial timeout
func (c Connection) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// Web configures the status server
type Web struct {
	// Listen is the address of the status server, empty disables it
	Listen string `yaml:"listen" toml:"listen" json:"listen" env:"MELANOBOT_WEB_LISTEN"`
	// LogConnection and LogChannel name where HTTP requests are reported, both empty disables it
	LogConnection string `yaml:"log_connection" toml:"log_connection" json:"log_connection" env:"MELANOBOT_WEB_LOG_CONNECTION"`
	LogChannel    string `yaml:"log_channel" toml:"log_channel" json:"log_channel" env:"MELANOBOT_WEB_LOG_CHANNEL"`
	// Token enables the admin routes, requests must carry it as a bearer token
	Token string `yaml:"token" toml:"token" json:"-" env:"MELANOBOT_WEB_TOKEN"`
}

// Config represents the whole bot configuration
type Config struct {
	Connections []Connection `yaml:"connections" toml:"connections" json:"connections" validate:"required,min=1,dive"`

	Web Web `yaml:"web" toml:"web" json:"web"`

	// Database is an optional DSN used to persist group membership (sqlite file, postgres:// or mysql://)
	Database string `yaml:"database" toml:"database" json:"database" env:"MELANOBOT_DATABASE"`
	Debug    bool   `yaml:"debug" toml:"debug" json:"debug" env:"MELANOBOT_DEBUG"`

	// Configuration source for reloading
	Source string `yaml:"-" toml:"-" json:"-"`
}

var validate = validator.New()

// Load loads configuration from a file or URL
func Load(source string) (*Config, error) {
	cfg := &Config{}
	if err := cfg.loadFromSource(source); err != nil {
		return nil, err
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Reload reloads the configuration from the original source or a new source
func (c *Config) Reload(newSource string) error {
	if newSource == "" {
		newSource = c.Source
	}

	newCfg := &Config{}
	if err := newCfg.loadFromSource(newSource); err != nil {
		return err
	}
	if err := newCfg.finish(); err != nil {
		return err
	}

	*c = *newCfg
	return nil
}

// Validate checks the configuration against its validation tags
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) finish() error {
	applyEnvOverrides(c)
	for i := range c.Connections {
		c.Connections[i].ApplyDefaults()
		if c.Debug {
			c.Connections[i].Debug = true
		}
	}
	return c.Validate()
}

// ApplyDefaults fills every unset field of the connection
func (c *Connection) ApplyDefaults() {
	if c.Protocol == "" {
		c.Protocol = DefaultProtocol
	}
	if c.Server.Host != "" && c.Server.Port == 0 {
		if host, port, ok := splitHostPort(c.Server.Host); ok {
			c.Server.Host = host
			c.Server.Port = port
		}
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Nick == "" {
		c.Nick = DefaultNick
	}
	if c.Auth.Nick == "" {
		c.Auth.Nick = c.Nick
	}
	if c.Buffer.TimerMax == nil {
		c.Buffer.TimerMax = Int(DefaultTimerMax)
	}
	if c.Buffer.MessagePenalty == nil {
		c.Buffer.MessagePenalty = Int(DefaultMessagePenalty)
	}
	if c.Buffer.BytesPenalty == nil {
		c.Buffer.BytesPenalty = Int(DefaultBytesPenalty)
	}
	if c.Buffer.MaxLength == 0 {
		c.Buffer.MaxLength = DefaultMaxLength
	}
}

// Validate checks a single connection against its validation tags
func (c *Connection) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid connection %q: %w", c.Name, err)
	}
	return nil
}

// splitHostPort accepts the "host:port" shorthand for the server host,
// IPv6 literals need brackets: "[::1]:6667"
func splitHostPort(hostport string) (string, int, bool) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, 0, false
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || host == "" {
		return hostport, 0, false
	}
	return host, int(port), true
}

// loadFromSource loads configuration from a file or URL
func (c *Config) loadFromSource(source string) error {
	var data []byte
	var err error

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		resp, err := http.Get(source)
		if err != nil {
			return fmt.Errorf("failed to load config from URL: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("failed to load config from URL, status: %s", resp.Status)
		}

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read config from URL: %w", err)
		}
	} else {
		data, err = os.ReadFile(source)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := c.parse(source, data); err != nil {
		return err
	}
	c.Source = source
	return nil
}

// parse decodes data picking the format from the source extension
func (c *Config) parse(source string, data []byte) error {
	var err error
	switch {
	case strings.HasSuffix(source, ".toml"):
		err = toml.Unmarshal(data, c)
	case strings.HasSuffix(source, ".json"):
		err = json.Unmarshal(data, c)
	default:
		err = yaml.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	applyEnvOverridesRecursive(reflect.ValueOf(cfg).Elem())
}

func applyEnvOverridesRecursive(v reflect.Value) {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue
		}

		if envTag := field.Tag.Get("env"); envTag != "" {
			if envValue, exists := os.LookupEnv(envTag); exists {
				setFieldFromEnv(v.Field(i), envValue)
			}
		} else if field.Type.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(v.Field(i))
		}
	}
}

func setFieldFromEnv(field reflect.Value, envValue string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var n int64
		if _, err := fmt.Sscanf(envValue, "%d", &n); err == nil {
			field.SetInt(n)
		}
	case reflect.Bool:
		switch strings.ToLower(envValue) {
		case "true", "1", "yes", "y":
			field.SetBool(true)
		default:
			field.SetBool(false)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(envValue, ",")
			slice := reflect.MakeSlice(field.Type(), len(values), len(values))
			for i, v := range values {
				slice.Index(i).SetString(strings.TrimSpace(v))
			}
			field.Set(slice)
		}
	}
}
