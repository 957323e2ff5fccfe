package ipixel

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"avaneesh/ipixel-go/pkg/codec"
	"avaneesh/ipixel-go/pkg/internal/logger"
	"avaneesh/ipixel-go/pkg/link"
	"avaneesh/ipixel-go/pkg/retry"
	"avaneesh/ipixel-go/pkg/supervisor"
	"avaneesh/ipixel-go/pkg/transfer"
	"avaneesh/ipixel-go/pkg/transport"
)

// EnvPrefix prefixes every configuration environment variable,
// e.g. IPIXEL_ACK_TIMEOUT
const EnvPrefix = "IPIXEL"

// Transports
const (
	TransportBLE  = "ble"
	TransportQUIC = "quic"
)

// Config is the flat, file/env/flag loadable configuration of one device
type Config struct {
	// Connection
	Address        string        `mapstructure:"address"`
	Transport      string        `mapstructure:"transport"`
	Variant        string        `mapstructure:"variant"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ScanTimeout    time.Duration `mapstructure:"scan_timeout"`
	FallbackMTU    int           `mapstructure:"fallback_mtu"`
	MTUCeiling     int           `mapstructure:"mtu_ceiling"`

	// Delivery
	WriteMode         string        `mapstructure:"write_mode"`
	AckTimeout        time.Duration `mapstructure:"ack_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	BackoffCap        time.Duration `mapstructure:"backoff_cap"`
	BackoffJitter     float64       `mapstructure:"backoff_jitter"`
	TransferDeadline  time.Duration `mapstructure:"transfer_deadline"`

	// Reconnect
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectBase     time.Duration `mapstructure:"reconnect_base"`
	ReconnectCap      time.Duration `mapstructure:"reconnect_cap"`
	QueuePolicy       string        `mapstructure:"queue_policy"`
	QueueDepth        int           `mapstructure:"queue_depth"`

	// Logging
	LogLevel   string `mapstructure:"log_level"`
	FrameDebug bool   `mapstructure:"frame_debug"`
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	sup := supervisor.DefaultConfig()
	return Config{
		Transport:         TransportBLE,
		Variant:           codec.VariantStandard.Name,
		ConnectTimeout:    link.DefaultConnectTimeout,
		ScanTimeout:       link.DefaultScanTimeout,
		FallbackMTU:       link.DefaultMTU,
		WriteMode:         link.NotificationAck{}.Name(),
		AckTimeout:        link.DefaultAckTimeout,
		MaxRetries:        retry.DefaultMaxAttempts,
		BackoffBase:       retry.DefaultBase,
		BackoffMultiplier: retry.DefaultMultiplier,
		BackoffCap:        retry.DefaultCap,
		TransferDeadline:  transfer.DefaultTransferDeadline,
		ReconnectAttempts: sup.Reconnect.MaxAttempts,
		ReconnectBase:     sup.Reconnect.Base,
		ReconnectCap:      sup.Reconnect.Cap,
		QueuePolicy:       sup.QueuePolicy.String(),
		QueueDepth:        sup.QueueDepth,
		LogLevel:          "info",
	}
}

// Validate checks that every named option resolves
func (c Config) Validate() error {
	var errs []error

	switch c.Transport {
	case TransportBLE, TransportQUIC:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if _, err := codec.LookupVariant(c.Variant); err != nil {
		errs = append(errs, err)
	}
	if ack, err := link.LookupAckStrategy(c.WriteMode); err != nil {
		errs = append(errs, err)
	} else if _, ok := ack.(link.WriteCompletionAck); ok && c.Transport == TransportBLE && !link.BLEWriteWithResponse {
		errs = append(errs, fmt.Errorf("write mode %q: %w, use \"notify\"", c.WriteMode, link.ErrWriteModeUnsupported))
	}
	if _, err := supervisor.ParseQueuePolicy(c.QueuePolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.FallbackMTU < transport.HeaderSize+transport.MinChunkPayload {
		errs = append(errs, fmt.Errorf("fallback MTU %d leaves no room for a chunk", c.FallbackMTU))
	}
	if c.MTUCeiling != 0 && c.MTUCeiling < transport.HeaderSize+transport.MinChunkPayload {
		errs = append(errs, fmt.Errorf("MTU ceiling %d leaves no room for a chunk", c.MTUCeiling))
	}
	if c.AckTimeout <= 0 || c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if err := c.retryPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	if err := c.reconnectPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("reconnect: %w", err))
	}
	if c.QueueDepth < 1 {
		errs = append(errs, fmt.Errorf("queue depth %d below 1", c.QueueDepth))
	}

	return errors.Join(errs...)
}

func (c Config) retryPolicy() retry.Policy {
	return retry.Policy{
		Base:        c.BackoffBase,
		Multiplier:  c.BackoffMultiplier,
		Cap:         c.BackoffCap,
		MaxAttempts: c.MaxRetries,
		Jitter:      c.BackoffJitter,
	}
}

func (c Config) reconnectPolicy() retry.Policy {
	return retry.Policy{
		Base:        c.ReconnectBase,
		Multiplier:  c.BackoffMultiplier,
		Cap:         c.ReconnectCap,
		MaxAttempts: c.ReconnectAttempts,
		Jitter:      c.BackoffJitter,
	}
}

// sessionConfig maps the flat options onto link.SessionConfig
func (c Config) sessionConfig() (link.SessionConfig, error) {
	ack, err := link.LookupAckStrategy(c.WriteMode)
	if err != nil {
		return link.SessionConfig{}, err
	}
	cfg := link.DefaultSessionConfig()
	cfg.ConnectTimeout = c.ConnectTimeout
	cfg.AckTimeout = c.AckTimeout
	cfg.FallbackMTU = c.FallbackMTU
	cfg.MTUCeiling = c.MTUCeiling
	cfg.Ack = ack
	return cfg, nil
}

func (c Config) transferConfig() transfer.Config {
	cfg := transfer.DefaultConfig()
	cfg.Retry = c.retryPolicy()
	cfg.TransferDeadline = c.TransferDeadline
	return cfg
}

func (c Config) supervisorConfig() (supervisor.Config, error) {
	policy, err := supervisor.ParseQueuePolicy(c.QueuePolicy)
	if err != nil {
		return supervisor.Config{}, err
	}
	cfg := supervisor.DefaultConfig()
	cfg.Address = c.Address
	cfg.Reconnect = c.reconnectPolicy()
	cfg.QueuePolicy = policy
	cfg.QueueDepth = c.QueueDepth
	return cfg, nil
}

// configKeys maps viper keys to flag names and usage
var configKeys = []struct {
	key   string
	usage string
}{
	{"address", "device address (BLE MAC/UUID or bridge host:port)"},
	{"transport", "link transport: ble or quic"},
	{"variant", "protocol variant: " + strings.Join(codec.VariantNames(), ", ")},
	{"connect_timeout", "bound on dial and service discovery"},
	{"scan_timeout", "bound on a BLE scan"},
	{"fallback_mtu", "usable MTU when negotiation fails"},
	{"mtu_ceiling", "cap on the negotiated MTU, 0 for none"},
	{"write_mode", "chunk acknowledgement: notify or response"},
	{"ack_timeout", "per attempt wait for a chunk ack"},
	{"max_retries", "total attempts per chunk"},
	{"backoff_base", "first retry delay"},
	{"backoff_multiplier", "retry delay growth factor"},
	{"backoff_cap", "largest retry delay, 0 for none"},
	{"backoff_jitter", "random fraction added to delays"},
	{"transfer_deadline", "cap on one send including retries, 0 for none"},
	{"reconnect_attempts", "connection attempts per outage"},
	{"reconnect_base", "first reconnect delay"},
	{"reconnect_cap", "largest reconnect delay"},
	{"queue_policy", "sends while reconnecting: queue or reject"},
	{"queue_depth", "sends held while reconnecting"},
	{"log_level", "debug, info, warn or error"},
	{"frame_debug", "hex dump every frame"},
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// RegisterFlags adds one flag per option to fs, defaulting to DefaultConfig
func RegisterFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	defaults := map[string]interface{}{}
	setDefaults(d, func(key string, v interface{}) { defaults[key] = v })

	for _, k := range configKeys {
		name := flagName(k.key)
		switch v := defaults[k.key].(type) {
		case string:
			fs.String(name, v, k.usage)
		case int:
			fs.Int(name, v, k.usage)
		case float64:
			fs.Float64(name, v, k.usage)
		case bool:
			fs.Bool(name, v, k.usage)
		case time.Duration:
			fs.Duration(name, v, k.usage)
		}
	}
}

// BindFlags binds the flags added by RegisterFlags to v
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, k := range configKeys {
		f := fs.Lookup(flagName(k.key))
		if f == nil {
			continue
		}
		if err := v.BindPFlag(k.key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", f.Name, err)
		}
	}
	return nil
}

// LoadConfig resolves configuration from v: bound flags, then IPIXEL_*
// environment variables, then any config file read into v, then defaults.
// A nil v reads the environment only.
func LoadConfig(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(DefaultConfig(), v.SetDefault)

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

func setDefaults(c Config, set func(key string, v interface{})) {
	set("address", c.Address)
	set("transport", c.Transport)
	set("variant", c.Variant)
	set("connect_timeout", c.ConnectTimeout)
	set("scan_timeout", c.ScanTimeout)
	set("fallback_mtu", c.FallbackMTU)
	set("mtu_ceiling", c.MTUCeiling)
	set("write_mode", c.WriteMode)
	set("ack_timeout", c.AckTimeout)
	set("max_retries", c.MaxRetries)
	set("backoff_base", c.BackoffBase)
	set("backoff_multiplier", c.BackoffMultiplier)
	set("backoff_cap", c.BackoffCap)
	set("backoff_jitter", c.BackoffJitter)
	set("transfer_deadline", c.TransferDeadline)
	set("reconnect_attempts", c.ReconnectAttempts)
	set("reconnect_base", c.ReconnectBase)
	set("reconnect_cap", c.ReconnectCap)
	set("queue_policy", c.QueuePolicy)
	set("queue_depth", c.QueueDepth)
	set("log_level", c.LogLevel)
	set("frame_debug", c.FrameDebug)
}
