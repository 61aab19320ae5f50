package driver

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/voxelforge/fabric/pkg/types"
)

type worldSlot struct {
	Slot  int    `yaml:"slot"`
	Item  string `yaml:"item"`
	Count uint   `yaml:"count"`
}

type worldContainer struct {
	Name  string      `yaml:"name"`
	Size  int         `yaml:"size"`
	Role  types.Role  `yaml:"role"`
	Slots []worldSlot `yaml:"slots"`
}

type worldFile struct {
	Containers []worldContainer `yaml:"containers"`
}

// LoadWorld builds a SimDriver from a YAML world description. Used to
// run a controller without real peripherals.
func LoadWorld(path string) (*SimDriver, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read world file: %w", err)
	}
	var w worldFile
	if err := yaml.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("parse world file: %w", err)
	}

	d := NewSimDriver()
	for _, c := range w.Containers {
		if c.Name == "" || c.Size <= 0 {
			return nil, fmt.Errorf("world container needs a name and a positive size")
		}
		role := c.Role
		if role == "" {
			role = types.RoleStorage
		}
		d.AddContainer(c.Name, c.Size, role)
		for _, s := range c.Slots {
			if s.Slot < 1 || s.Slot > c.Size {
				return nil, fmt.Errorf("container %s: slot %d out of range", c.Name, s.Slot)
			}
			d.SetSlot(c.Name, s.Slot, types.ParseItemKey(s.Item), s.Count)
		}
	}
	return d, nil
}
