package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "10s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Network   NetworkConfig   `toml:"network"`
	World     WorldConfig     `toml:"world"`
	Logging   LoggingConfig   `toml:"logging"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

type ServerConfig struct {
	Name      string `toml:"name"`
	StartTime int64  // set at boot, not from config
}

type NetworkConfig struct {
	BindAddress    string   `toml:"bind_address"`
	WsPath         string   `toml:"ws_path"`
	TickRateHz     int      `toml:"tick_rate_hz"`
	ReliableQueue  int      `toml:"reliable_queue"`
	EphemeralQueue int      `toml:"ephemeral_queue"`
	IntentQueue    int      `toml:"intent_queue"`
	MaxRadius      int      `toml:"max_radius"` // AOI radius ceiling, chunks
	WriteTimeout   Duration `toml:"write_timeout"`
}

type WorldConfig struct {
	// HistoryDepth bounds how many versions of per-chunk edit history are
	// kept for delta replication; connections further behind get snapshots.
	HistoryDepth int `toml:"history_depth"`
	// PregenRadius is the Chebyshev radius around the origin column that is
	// generated at boot. Negative disables pre-generation.
	PregenRadius int    `toml:"pregen_radius"`
	ScriptsDir   string `toml:"scripts_dir"`
	VoxelList    string `toml:"voxel_list"`

	SpawnChunkX   int32 `toml:"spawn_chunk_x"`
	SpawnChunkY   int32 `toml:"spawn_chunk_y"`
	SpawnChunkZ   int32 `toml:"spawn_chunk_z"`
	SpawnOffsetCm int16 `toml:"spawn_offset_cm"` // applied to all three axes
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type RateLimitConfig struct {
	Enabled           bool `toml:"enabled"`
	MessagesPerSecond int  `toml:"messages_per_second"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Server.StartTime = time.Now().Unix()
	return cfg, nil
}

// TickInterval returns the tick period derived from the configured rate.
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Network.TickRateHz)
}

func (c *Config) validate() error {
	if c.Network.TickRateHz < 1 || c.Network.TickRateHz > 255 {
		return fmt.Errorf("tick_rate_hz %d out of range 1-255", c.Network.TickRateHz)
	}
	if c.Network.MaxRadius < 0 || c.Network.MaxRadius > 255 {
		return fmt.Errorf("max_radius %d out of range 0-255", c.Network.MaxRadius)
	}
	if c.World.SpawnOffsetCm < 0 || c.World.SpawnOffsetCm >= 1600 {
		return fmt.Errorf("spawn_offset_cm %d outside [0, 1600)", c.World.SpawnOffsetCm)
	}
	if c.World.HistoryDepth < 1 {
		return fmt.Errorf("history_depth %d must be at least 1", c.World.HistoryDepth)
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name: "voxsync",
		},
		Network: NetworkConfig{
			BindAddress:    "0.0.0.0:7777",
			WsPath:         "/ws",
			TickRateHz:     30,
			ReliableQueue:  64,
			EphemeralQueue: 8,
			IntentQueue:    4096,
			MaxRadius:      8,
			WriteTimeout:   Duration(10 * time.Second),
		},
		World: WorldConfig{
			HistoryDepth:  64,
			PregenRadius:  2,
			ScriptsDir:    "scripts",
			VoxelList:     "data/voxel_list.yaml",
			SpawnChunkY:   4,
			SpawnOffsetCm: 800,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			MessagesPerSecond: 120,
		},
	}
}
