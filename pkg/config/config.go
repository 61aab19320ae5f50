// Package config loads and validates coordinator configuration:
// defaults overlaid by an optional YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voxelforge/fabric/pkg/types"
)

// Config is the per-process configuration, loaded once at startup and
// passed by reference. Nothing mutates it after Load returns.
type Config struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"` // console or json
	DataDir   string `yaml:"dataDir"`

	API struct {
		ListenAddr string `yaml:"listenAddr"`
	} `yaml:"api"`

	Bus struct {
		ListenAddr    string `yaml:"listenAddr"`
		BroadcastAddr string `yaml:"broadcastAddr"`
		SelfID        string `yaml:"selfId"`
		SelfLabel     string `yaml:"selfLabel"`
	} `yaml:"bus"`

	Intervals struct {
		Scan        time.Duration `yaml:"scan"`
		Export      time.Duration `yaml:"export"`
		Furnace     time.Duration `yaml:"furnace"`
		Heartbeat   time.Duration `yaml:"heartbeat"`
		HealthSweep time.Duration `yaml:"healthSweep"`
		Dispatch    time.Duration `yaml:"dispatch"`
		Planner     time.Duration `yaml:"planner"`
	} `yaml:"intervals"`

	Health struct {
		OnlineThreshold   time.Duration `yaml:"onlineThreshold"`
		DegradedThreshold time.Duration `yaml:"degradedThreshold"`
	} `yaml:"health"`

	RecipesFile string `yaml:"recipesFile"`

	ExportTargets []types.ExportTarget `yaml:"exportTargets"`
	SmeltTargets  []types.SmeltTarget  `yaml:"smeltTargets"`

	Shop struct {
		StreamURL   string  `yaml:"streamUrl"`
		Account     string  `yaml:"account"`
		HelpMessage string  `yaml:"helpMessage"`
		MinPrice    float64 `yaml:"minPrice"`
	} `yaml:"shop"`

	Roads struct {
		DefaultWidth int    `yaml:"defaultWidth"`
		DefaultBlock string `yaml:"defaultBlock"`
	} `yaml:"roads"`

	World string `yaml:"world"` // simulated world file, used without real peripherals
}

// Default returns a config with every knob at its default.
func Default() *Config {
	c := &Config{
		LogLevel:    "info",
		LogFormat:   "console",
		DataDir:     "/var/lib/fabric",
		RecipesFile: "recipes.yaml",
	}
	c.API.ListenAddr = ":8080"
	c.Bus.ListenAddr = ":17615"
	c.Bus.BroadcastAddr = "255.255.255.255:17615"
	c.Bus.SelfLabel = "fabric"
	c.Intervals.Scan = 30 * time.Second
	c.Intervals.Export = 2 * time.Second
	c.Intervals.Furnace = 5 * time.Second
	c.Intervals.Heartbeat = 10 * time.Second
	c.Intervals.HealthSweep = 5 * time.Second
	c.Intervals.Dispatch = 2 * time.Second
	c.Intervals.Planner = 5 * time.Second
	c.Health.OnlineThreshold = 30 * time.Second
	c.Health.DegradedThreshold = 120 * time.Second
	c.Shop.HelpMessage = "Thank you! Send an amount matching a listed price to buy."
	c.Shop.MinPrice = 0.01
	c.Roads.DefaultWidth = 3
	c.Roads.DefaultBlock = "minecraft:cobblestone"
	return c
}

// Load reads a YAML config file over the defaults. A missing path
// returns pure defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects configurations the controller cannot run with.
func (c *Config) Validate() error {
	if c.Health.OnlineThreshold >= c.Health.DegradedThreshold {
		return fmt.Errorf("health: onlineThreshold %s must be below degradedThreshold %s",
			c.Health.OnlineThreshold, c.Health.DegradedThreshold)
	}
	for _, t := range c.ExportTargets {
		if t.Container == "" {
			return fmt.Errorf("export target with empty container name")
		}
		if t.Mode != types.ExportModeStock && t.Mode != types.ExportModeEmpty {
			return fmt.Errorf("export target %s: unknown mode %q", t.Container, t.Mode)
		}
	}
	for _, t := range c.SmeltTargets {
		if t.Output == "" || t.Qty == 0 {
			return fmt.Errorf("smelt target must name an output and a positive qty")
		}
	}
	return nil
}
