package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxsync/server/internal/config"
	coresys "github.com/voxsync/server/internal/core/system"
	"github.com/voxsync/server/internal/data"
	gonet "github.com/voxsync/server/internal/net"
	"github.com/voxsync/server/internal/scripting"
	"github.com/voxsync/server/internal/system"
	"github.com/voxsync/server/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("VOXSYNC_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	// 2. Logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	log.Info("server starting",
		zap.String("name", cfg.Server.Name),
		zap.Int("tick_rate_hz", cfg.Network.TickRateHz),
	)

	// 3. Static data
	voxels, err := data.LoadVoxelTable(cfg.World.VoxelList)
	if err != nil {
		return fmt.Errorf("load voxel table: %w", err)
	}
	log.Info("voxel catalog loaded", zap.Int("types", voxels.Len()))

	// 4. Worldgen scripts
	engine, err := scripting.NewEngine(cfg.World.ScriptsDir, voxels, log)
	if err != nil {
		return fmt.Errorf("init scripting: %w", err)
	}
	defer engine.Close()

	// 5. World state + pre-generated terrain
	ws := world.NewState(cfg.World.HistoryDepth)
	if err := pregenerate(ws, engine, cfg.World.PregenRadius); err != nil {
		return fmt.Errorf("pregenerate world: %w", err)
	}
	log.Info("world seeded", zap.Int("chunks", ws.ChunkCount()))

	// 6. Network
	msgPerSec := 0
	if cfg.RateLimit.Enabled {
		msgPerSec = cfg.RateLimit.MessagesPerSecond
	}
	netServer, err := gonet.NewServer(cfg.Network.BindAddress, cfg.Network.WsPath, gonet.Options{
		ReliableQueue:  cfg.Network.ReliableQueue,
		EphemeralQueue: cfg.Network.EphemeralQueue,
		IntentQueue:    cfg.Network.IntentQueue,
		MsgsPerSecond:  msgPerSec,
		WriteTimeout:   cfg.Network.WriteTimeout.Std(),
	}, log)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Network.BindAddress, err)
	}
	go netServer.Serve()

	// 7. Tick systems
	store := gonet.NewSessionStore()
	spawn := world.Pose{
		Chunk: world.ChunkPos{
			X: cfg.World.SpawnChunkX,
			Y: cfg.World.SpawnChunkY,
			Z: cfg.World.SpawnChunkZ,
		},
		Offset: [3]int16{cfg.World.SpawnOffsetCm, cfg.World.SpawnOffsetCm, cfg.World.SpawnOffsetCm},
	}

	runner := coresys.NewRunner()
	runner.Register(system.NewIntentSystem(
		netServer, store, ws, voxels,
		uint8(cfg.Network.TickRateHz), uint8(cfg.Network.MaxRadius), spawn, log,
	))
	runner.Register(system.NewSimulateSystem(ws, log))
	runner.Register(system.NewReplicateSystem(store, ws, log))
	runner.Register(system.NewOutputSystem(store))

	// 8. Tick loop. A time.Ticker drops ticks the loop missed, so a slow
	// tick is followed by a normal one instead of a burst of catch-ups.
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	interval := cfg.TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("server ready",
		zap.String("addr", netServer.Addr().String()),
		zap.String("ws_path", cfg.Network.WsPath),
		zap.Duration("tick", interval),
	)

	for {
		select {
		case <-ticker.C:
			// The counter advances after the tick body so the first
			// replicated frames carry tick 0.
			runner.Tick(interval)
			ws.AdvanceTick()
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			netServer.Shutdown()
			store.ForEach(func(s *gonet.Session) { s.Close() })
			log.Info("server stopped")
			return nil
		}
	}
}

// pregenerate materializes the chunk columns within radius of the origin so
// connecting clients have terrain before any edits happen. Every generated
// chunk commits at version 1.
func pregenerate(ws *world.State, engine *scripting.Engine, radius int) error {
	if radius < 0 {
		return nil
	}
	for cz := -radius; cz <= radius; cz++ {
		for cx := -radius; cx <= radius; cx++ {
			pos := world.ChunkPos{X: int32(cx), Y: 0, Z: int32(cz)}
			edits, err := engine.GenerateChunk(pos)
			if err != nil {
				return err
			}
			for _, e := range edits {
				ws.ApplyEdit(pos, e)
			}
		}
	}
	ws.CommitEdits()
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
