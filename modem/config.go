package modem

import (
	"fmt"
	"log/slog"
	"time"

	"i4.energy/across/polectl/rxbuf"
)

// Sleeper waits for d. Steps are never interrupted once started, so a Sleeper
// takes no context.
type Sleeper func(d time.Duration)

// Timing holds the settle delays between protocol steps. The defaults are
// the values the unit's modem was tuned against.
type Timing struct {
	PowerKeyHold     time.Duration `yaml:"power_key_hold"`
	PowerDrain       time.Duration `yaml:"power_drain"`
	PowerDrainRounds int           `yaml:"power_drain_rounds"`
	EchoPreCR        time.Duration `yaml:"echo_pre_cr"`
	EchoSettle       time.Duration `yaml:"echo_settle"`
	TextMode         time.Duration `yaml:"text_mode"`
	PowerCheck       time.Duration `yaml:"power_check"`
	DeleteAll        time.Duration `yaml:"delete_all"`
	ReadSettle       time.Duration `yaml:"read_settle"`
	SMSStep          time.Duration `yaml:"sms_step"`
	SMSSettle        time.Duration `yaml:"sms_settle"`
	BearerStep       time.Duration `yaml:"bearer_step"`
	BearerOpen       time.Duration `yaml:"bearer_open"`
	HTTPStep         time.Duration `yaml:"http_step"`
	HTTPDataWindow   time.Duration `yaml:"http_data_window"`
	HTTPAction       time.Duration `yaml:"http_action"`
}

// DefaultTiming returns the stock delays.
func DefaultTiming() Timing {
	return Timing{
		PowerKeyHold:     2500 * time.Millisecond,
		PowerDrain:       2 * time.Second,
		PowerDrainRounds: 4,
		EchoPreCR:        10 * time.Millisecond,
		EchoSettle:       500 * time.Millisecond,
		TextMode:         100 * time.Millisecond,
		PowerCheck:       time.Second,
		DeleteAll:        4 * time.Second,
		ReadSettle:       time.Second,
		SMSStep:          10 * time.Millisecond,
		SMSSettle:        time.Second,
		BearerStep:       time.Second,
		BearerOpen:       2 * time.Second,
		HTTPStep:         300 * time.Millisecond,
		HTTPDataWindow:   10 * time.Second,
		HTTPAction:       3 * time.Second,
	}
}

// Config is the Session configuration. Use NewConfigBuilder to build one.
type Config struct {
	dialer     Dialer
	powerKey   PowerKey
	sleep      Sleeper
	logger     *slog.Logger
	bufferSize int

	apn       string
	baseURL   string
	smsNumber string
	register  int

	verify  bool
	retries int

	timing Timing
}

func (c *Config) validate() error {
	if c.dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.sleep == nil {
		c.sleep = time.Sleep
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.bufferSize == 0 {
		c.bufferSize = rxbuf.DefaultSize
	}
	if c.smsNumber == "" {
		c.smsNumber = DefaultSMSNumber
	}
	if c.register == 0 {
		c.register = DefaultRegister
	}
	if c.timing == (Timing{}) {
		c.timing = DefaultTiming()
	}
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.dialer = d
	return b
}

// WithPowerKey enables PowerOn. Without it bring-up relies on the modem being
// powered already.
func (b *ConfigBuilder) WithPowerKey(k PowerKey) *ConfigBuilder {
	b.config.powerKey = k
	return b
}

func (b *ConfigBuilder) WithSleeper(s Sleeper) *ConfigBuilder {
	b.config.sleep = s
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.logger = l
	return b
}

// WithBufferSize sets the receive buffer capacity, a power of two.
func (b *ConfigBuilder) WithBufferSize(n int) *ConfigBuilder {
	b.config.bufferSize = n
	return b
}

func (b *ConfigBuilder) WithAPN(apn string) *ConfigBuilder {
	b.config.apn = apn
	return b
}

// WithBaseURL sets the prefix every push endpoint is appended to.
func (b *ConfigBuilder) WithBaseURL(u string) *ConfigBuilder {
	b.config.baseURL = u
	return b
}

func (b *ConfigBuilder) WithSMSNumber(n string) *ConfigBuilder {
	b.config.smsNumber = n
	return b
}

// WithRegister sets the storage register read when no notification names one.
func (b *ConfigBuilder) WithRegister(r int) *ConfigBuilder {
	b.config.register = r
	return b
}

// WithVerify turns on response verification with up to retries re-sends per
// step. Step order and literals do not change.
func (b *ConfigBuilder) WithVerify(retries int) *ConfigBuilder {
	b.config.verify = true
	b.config.retries = retries
	return b
}

func (b *ConfigBuilder) WithTiming(t Timing) *ConfigBuilder {
	b.config.timing = t
	return b
}

func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	if c.register < 0 {
		return Config{}, fmt.Errorf("invalid register %d", c.register)
	}
	if c.bufferSize < 0 || c.bufferSize == 1 || c.bufferSize&(c.bufferSize-1) != 0 {
		return Config{}, fmt.Errorf("buffer size %d is not a power of two", c.bufferSize)
	}
	c.setDefaults()
	return c, nil
}
