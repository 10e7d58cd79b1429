package presence

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 客户端全部配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Viewport  ViewportConfig  `mapstructure:"viewport"`
	Expiry    ExpiryConfig    `mapstructure:"expiry"`
	Transport TransportConfig `mapstructure:"transport"`
	Animation AnimationConfig `mapstructure:"animation"`
	Origin    OriginConfig    `mapstructure:"origin"`
	Session   SessionConfig   `mapstructure:"session"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Log       LogConfig       `mapstructure:"log"`
	Debug     DebugConfig     `mapstructure:"debug"`
}

type ServerConfig struct {
	URL string `mapstructure:"url"`
}

// PublishConfig 本地状态发布节流：不快于 MinInterval，不慢于 MaxInterval
type PublishConfig struct {
	MinInterval  time.Duration `mapstructure:"min_interval"`
	MaxInterval  time.Duration `mapstructure:"max_interval"`
	HintInterval time.Duration `mapstructure:"hint_interval"`
}

type ViewportConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Meters   float64       `mapstructure:"meters"`
}

type ExpiryConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type TransportConfig struct {
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
}

type AnimationConfig struct {
	FrameInterval time.Duration `mapstructure:"frame_interval"`
	EntryDuration time.Duration `mapstructure:"entry_duration"`
	MoveDuration  time.Duration `mapstructure:"move_duration"`
	LinkDuration  time.Duration `mapstructure:"link_duration"`
	ExitDuration  time.Duration `mapstructure:"exit_duration"`
	StaleOpacity  float64       `mapstructure:"stale_opacity"`
}

// OriginConfig 初始随机位置的区域：中心点 ± Spread/2（度）
type OriginConfig struct {
	Lng    float64 `mapstructure:"lng"`
	Lat    float64 `mapstructure:"lat"`
	Spread float64 `mapstructure:"spread"`
}

type SessionConfig struct {
	Backend  string        `mapstructure:"backend"` // file | redis | memory
	Dir      string        `mapstructure:"dir"`
	Key      string        `mapstructure:"key"`
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type ChatConfig struct {
	LogPath  string        `mapstructure:"log_path"` // 为空则不落盘
	Interval time.Duration `mapstructure:"interval"`
	Burst    int           `mapstructure:"burst"`
}

type DebugConfig struct {
	Addr string `mapstructure:"addr"`
}

// Region 返回初始放置区域
func (o OriginConfig) Region() Bounds {
	half := o.Spread / 2
	return Bounds{
		SW: LngLat{Lng: o.Lng - half, Lat: o.Lat - half},
		NE: LngLat{Lng: o.Lng + half, Lat: o.Lat + half},
	}
}

// SetDefaults 写入默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "ws://localhost:8000/ws")

	v.SetDefault("publish.min_interval", "200ms")
	v.SetDefault("publish.max_interval", "1500ms")
	v.SetDefault("publish.hint_interval", "100ms")

	v.SetDefault("viewport.interval", "500ms")
	v.SetDefault("viewport.meters", 4000)

	v.SetDefault("expiry.timeout", "10s")
	v.SetDefault("expiry.sweep_interval", "1s")

	v.SetDefault("transport.reconnect_delay", "1s")
	v.SetDefault("transport.ping_interval", "25s")

	v.SetDefault("animation.frame_interval", "16ms")
	v.SetDefault("animation.entry_duration", "600ms")
	v.SetDefault("animation.move_duration", "100ms")
	v.SetDefault("animation.link_duration", "300ms")
	v.SetDefault("animation.exit_duration", "500ms")
	v.SetDefault("animation.stale_opacity", 0.4)

	v.SetDefault("origin.lng", -104.9964980827933)
	v.SetDefault("origin.lat", 39.74254437567595)
	v.SetDefault("origin.spread", 0.01)

	v.SetDefault("session.backend", "file")
	v.SetDefault("session.dir", ".geopresence")
	v.SetDefault("session.key", "default")
	v.SetDefault("session.redis_url", "redis://localhost:6379/0")
	v.SetDefault("session.ttl", "12h")

	v.SetDefault("chat.log_path", "")
	v.SetDefault("chat.interval", "500ms")
	v.SetDefault("chat.burst", 3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.console", true)

	v.SetDefault("debug.addr", "")
}

// DefaultConfig 返回只含默认值的配置
func DefaultConfig() Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

// LoadConfig 从默认值、配置文件与环境变量加载配置并校验
func LoadConfig(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	// 显式指定的配置文件（--config）优先
	if v.ConfigFileUsed() == "" {
		v.SetConfigName("geopresence")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("GEOPRESENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置；节流窗口倒置会破坏"不超过 MaxInterval 的静默"保证，必须拒绝启动
func (c *Config) Validate() error {
	if c.Publish.MinInterval <= 0 {
		return configError("publish.min_interval must be positive, got %s", c.Publish.MinInterval)
	}
	if c.Publish.MinInterval >= c.Publish.MaxInterval {
		return configError("publish.min_interval (%s) must be less than publish.max_interval (%s)",
			c.Publish.MinInterval, c.Publish.MaxInterval)
	}
	if c.Publish.HintInterval <= 0 || c.Publish.HintInterval > c.Publish.MinInterval {
		return configError("publish.hint_interval must be in (0, %s], got %s",
			c.Publish.MinInterval, c.Publish.HintInterval)
	}
	if c.Animation.MoveDuration <= 0 || c.Animation.MoveDuration > c.Publish.MinInterval {
		return configError("animation.move_duration must be in (0, %s], got %s",
			c.Publish.MinInterval, c.Animation.MoveDuration)
	}
	for name, d := range map[string]time.Duration{
		"viewport.interval":         c.Viewport.Interval,
		"expiry.timeout":            c.Expiry.Timeout,
		"expiry.sweep_interval":     c.Expiry.SweepInterval,
		"transport.reconnect_delay": c.Transport.ReconnectDelay,
		"transport.ping_interval":   c.Transport.PingInterval,
		"animation.frame_interval":  c.Animation.FrameInterval,
		"animation.entry_duration":  c.Animation.EntryDuration,
		"animation.link_duration":   c.Animation.LinkDuration,
		"animation.exit_duration":   c.Animation.ExitDuration,
		"chat.interval":             c.Chat.Interval,
	} {
		if d <= 0 {
			return configError("%s must be positive, got %s", name, d)
		}
	}
	if c.Animation.StaleOpacity <= 0 || c.Animation.StaleOpacity >= 1 {
		return configError("animation.stale_opacity must be in (0, 1), got %v", c.Animation.StaleOpacity)
	}
	if c.Origin.Spread <= 0 {
		return configError("origin.spread must be positive, got %v", c.Origin.Spread)
	}
	if c.Viewport.Meters <= 0 {
		return configError("viewport.meters must be positive, got %v", c.Viewport.Meters)
	}
	switch strings.ToLower(c.Session.Backend) {
	case "file", "redis", "memory":
	default:
		return configError("unknown session.backend %q", c.Session.Backend)
	}
	if c.Server.URL == "" {
		return configError("server.url cannot be empty")
	}
	return nil
}
