package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxelforge/fabric/pkg/bus"
	"github.com/voxelforge/fabric/pkg/config"
	"github.com/voxelforge/fabric/pkg/controller"
	"github.com/voxelforge/fabric/pkg/driver"
	"github.com/voxelforge/fabric/pkg/events"
	"github.com/voxelforge/fabric/pkg/inventory"
	"github.com/voxelforge/fabric/pkg/log"
	"github.com/voxelforge/fabric/pkg/recipe"
	"github.com/voxelforge/fabric/pkg/registry"
	"github.com/voxelforge/fabric/pkg/roads"
	"github.com/voxelforge/fabric/pkg/shop"
	"github.com/voxelforge/fabric/pkg/storage"
	"github.com/voxelforge/fabric/pkg/transfer"
	"github.com/voxelforge/fabric/pkg/types"
)

// logRefunder stands in for the opaque payment gateway: refunds are
// logged so an operator can settle them out of band.
type logRefunder struct{}

func (logRefunder) Refund(_ context.Context, to string, value float64, message string) error {
	log.Logger.Info().Str("to", to).Float64("value", value).Str("message", message).Msg("refund issued")
	return nil
}

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	worldPath  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fabric",
	Short: "Fabric - item-fabric coordinator",
	Long: `Fabric coordinates a fabric of item containers and remote agents:
a cached inventory index over many containers, batched parallel
transfers, declarative export policies, a recursive crafting planner,
and a broadcast message bus to crafters, workers, aisles and turtles.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Fabric version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&worldPath, "world", "", "simulated world file (runs without real peripherals)")

	rootCmd.AddCommand(controllerCmd)
	rootCmd.AddCommand(shopCmd)
	rootCmd.AddCommand(roadsCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Fabric version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

func setup() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogFormat == "json",
	})
	if worldPath != "" {
		cfg.World = worldPath
	}
	return cfg, nil
}

func buildDriver(cfg *config.Config) (driver.Driver, error) {
	if cfg.World == "" {
		return nil, fmt.Errorf("no peripheral runtime on this host: provide --world")
	}
	return driver.LoadWorld(cfg.World)
}

func openStore(cfg *config.Config, name string) (storage.Store, error) {
	dir := filepath.Join(cfg.DataDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return storage.NewBoltStore(dir)
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Run the item-fabric coordinator",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		drv, err := buildDriver(cfg)
		if err != nil {
			return err
		}
		store, err := openStore(cfg, "controller")
		if err != nil {
			return err
		}
		recipes, err := recipe.LoadFile(cfg.RecipesFile)
		if err != nil {
			return err
		}

		ctrl, err := controller.New(cfg, drv, store, recipes, log.Logger)
		if err != nil {
			return err
		}
		if err := ctrl.Start(cmd.Context()); err != nil {
			return err
		}
		waitForSignal()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		ctrl.Stop(ctx)
		return nil
	},
}

var shopCmd = &cobra.Command{
	Use:   "shop",
	Short: "Run the shop point of sale",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		if cfg.Shop.StreamURL == "" {
			return fmt.Errorf("shop: streamUrl not configured")
		}
		drv, err := buildDriver(cfg)
		if err != nil {
			return err
		}
		store, err := openStore(cfg, "shop")
		if err != nil {
			return err
		}

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		idx := inventory.New(drv, log.Logger)
		xfer := transfer.New(drv, idx, log.Logger)
		reg := registry.New(broker, log.Logger,
			registry.WithThresholds(cfg.Health.OnlineThreshold, cfg.Health.DegradedThreshold))

		b, err := bus.New(bus.Config{
			ListenAddr:    cfg.Bus.ListenAddr,
			BroadcastAddr: cfg.Bus.BroadcastAddr,
			SelfID:        cfg.Bus.SelfID,
			SelfLabel:     cfg.Bus.SelfLabel,
		}, log.Logger)
		if err != nil {
			return err
		}
		b.On(bus.MsgAislePong, func(env *bus.Envelope) {
			reg.Heartbeat(env.SenderID, types.AgentKindAisle, env.SenderLabel)
		})
		b.Start()
		defer b.Stop()

		if _, err := idx.Scan(cmd.Context(), true); err != nil {
			log.Logger.Warn().Err(err).Msg("initial scan failed")
		}

		engine := shop.New(store, logRefunder{}, shop.NewTransferDispenser(xfer, reg),
			shop.IndexStock{Idx: idx}, broker, b, cfg.Shop.HelpMessage, log.Logger)

		txStream := shop.NewStream(cfg.Shop.StreamURL, engine.HandleTransaction, log.Logger)
		txStream.Start()
		defer txStream.Stop()

		waitForSignal()
		return store.Close()
	},
}

var roadsCmd = &cobra.Command{
	Use:   "roads",
	Short: "Run the road-building fleet controller",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		reg := registry.New(broker, log.Logger,
			registry.WithThresholds(cfg.Health.OnlineThreshold, cfg.Health.DegradedThreshold))

		b, err := bus.New(bus.Config{
			ListenAddr:    cfg.Bus.ListenAddr,
			BroadcastAddr: cfg.Bus.BroadcastAddr,
			SelfID:        cfg.Bus.SelfID,
			SelfLabel:     cfg.Bus.SelfLabel,
		}, log.Logger)
		if err != nil {
			return err
		}
		fleet := roads.New(b, reg, cfg.Roads.DefaultWidth, cfg.Roads.DefaultBlock, log.Logger)
		b.On(bus.MsgPong, func(env *bus.Envelope) {
			reg.Heartbeat(env.SenderID, types.AgentKindTurtle, env.SenderLabel)
		})
		b.Start()
		defer b.Stop()
		defer func() {
			if err := fleet.StopAll(); err != nil {
				log.Logger.Warn().Err(err).Msg("fleet stop broadcast failed")
			}
		}()

		waitForSignal()
		return nil
	},
}
