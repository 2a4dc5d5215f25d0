package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dkeye/daudio/internal/core"
	"github.com/dkeye/daudio/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	DeviceID  string          `mapstructure:"device_id"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
	Fabric    FabricConfig    `mapstructure:"fabric"`
	Audio     AudioConfig     `mapstructure:"audio"`
	TaskQueue TaskQueueConfig `mapstructure:"taskqueue"`
}

type HTTPConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

type FabricConfig struct {
	Transport string `mapstructure:"transport"`
	// Peers maps device id to link type to base URL, e.g. peers.b.lan.
	Peers         map[string]map[string]string `mapstructure:"peers"`
	OutboundQueue int                          `mapstructure:"outbound_queue"`
	MaxMessageLen int                          `mapstructure:"max_message_len"`
	MaxFrameLen   int                          `mapstructure:"max_frame_len"`
	OpenTimeout   time.Duration                `mapstructure:"open_timeout"`
	WriteTimeout  time.Duration                `mapstructure:"write_timeout"`
	PingPeriod    time.Duration                `mapstructure:"ping_period"`
}

type AudioConfig struct {
	Mode             string        `mapstructure:"mode"`
	SampleRate       int           `mapstructure:"sample_rate"`
	Channels         int           `mapstructure:"channels"`
	BitFormat        string        `mapstructure:"bit_format"`
	FrameMs          int           `mapstructure:"frame_ms"`
	CaptureFile      string        `mapstructure:"capture_file"`
	RenderFile       string        `mapstructure:"render_file"`
	DumpDir          string        `mapstructure:"dump_dir"`
	JitterCapacity   int           `mapstructure:"jitter_capacity"`
	JitterPrefill    int           `mapstructure:"jitter_prefill"`
	PopWait          time.Duration `mapstructure:"pop_wait"`
	LatencyThreshold time.Duration `mapstructure:"latency_threshold"`
}

type TaskQueueConfig struct {
	MaxSize int `mapstructure:"max_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device_id", "")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)

	v.SetDefault("fabric.transport", "ws")
	v.SetDefault("fabric.peers", map[string]map[string]string{})
	v.SetDefault("fabric.outbound_queue", 10)
	v.SetDefault("fabric.max_message_len", 45*1024)
	v.SetDefault("fabric.max_frame_len", 100*1024)
	v.SetDefault("fabric.open_timeout", "3s")
	v.SetDefault("fabric.write_timeout", "2s")
	v.SetDefault("fabric.ping_period", "5s")

	v.SetDefault("audio.mode", "driver")
	v.SetDefault("audio.sample_rate", 48000)
	v.SetDefault("audio.channels", 2)
	v.SetDefault("audio.bit_format", "s16le")
	v.SetDefault("audio.frame_ms", 20)
	v.SetDefault("audio.capture_file", "")
	v.SetDefault("audio.render_file", "")
	v.SetDefault("audio.dump_dir", "")
	v.SetDefault("audio.jitter_capacity", 10)
	v.SetDefault("audio.jitter_prefill", 2)
	v.SetDefault("audio.pop_wait", "20ms")
	v.SetDefault("audio.latency_threshold", "60ms")

	v.SetDefault("taskqueue.max_size", 20)
}

// Load reads path, or config/config.<CONFIG_ENV>.yaml when path is empty.
// DAUDIO_ variables override file values, e.g. DAUDIO_HTTP_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		path = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(path)

	setDefaults(v)
	v.SetEnvPrefix("DAUDIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", path).Err(err).Msg("config file not loaded, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", path).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = domain.NewDeviceID().String()
	}
	if err := domain.DeviceID(cfg.DeviceID).Validate(); err != nil {
		return nil, fmt.Errorf("device_id: %w", err)
	}
	for _, peer := range cfg.PeerIDs() {
		if err := domain.DeviceID(peer).Validate(); err != nil {
			return nil, fmt.Errorf("fabric.peers: %w", err)
		}
	}
	if _, err := cfg.AudioParam(); err != nil {
		return nil, err
	}
	switch cfg.Fabric.Transport {
	case "ws", "memory":
	default:
		return nil, fmt.Errorf("%w: fabric transport %q", domain.ErrInvalidParam, cfg.Fabric.Transport)
	}
	return &cfg, nil
}

func (c *Config) AudioParam() (domain.AudioParam, error) {
	format, err := domain.ParseSampleFormat(c.Audio.BitFormat)
	if err != nil {
		return domain.AudioParam{}, err
	}
	p := domain.AudioParam{
		SampleRate: c.Audio.SampleRate,
		Channels:   c.Audio.Channels,
		Format:     format,
		FrameMs:    c.Audio.FrameMs,
	}
	return p, p.Validate()
}

// PeerIDs is sorted for stable startup order.
func (c *Config) PeerIDs() []string {
	ids := make([]string, 0, len(c.Fabric.Peers))
	for id := range c.Fabric.Peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Config) PeerRoutes() map[string]map[core.LinkType]string {
	out := make(map[string]map[core.LinkType]string, len(c.Fabric.Peers))
	for id, links := range c.Fabric.Peers {
		routes := make(map[core.LinkType]string, len(links))
		for lt, url := range links {
			routes[core.LinkType(lt)] = url
		}
		out[id] = routes
	}
	return out
}
