// Package recipe holds the craft, smelt and fuel definitions loaded
// from the recipes file.
package recipe

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Recipe describes one craft: Inputs consumed per craft, Count produced
// per craft. Correctness of the tables is data, not code; their shape
// is part of the contract.
type Recipe struct {
	Output string          `yaml:"output"`
	Count  uint            `yaml:"count"`
	Inputs map[string]uint `yaml:"inputs"`
}

// Smelt maps a furnace input to its output, one for one.
type Smelt struct {
	Input  string `yaml:"input"`
	Output string `yaml:"output"`
}

// Fuel is one burnable item and how many smelts it yields. Fuel order
// in the table is the refuel priority.
type Fuel struct {
	Item   string `yaml:"item"`
	Smelts uint   `yaml:"smelts"`
}

// Library holds the craft, smelt and fuel tables.
type Library struct {
	recipes map[string]Recipe
	smelts  map[string]string // output -> input
	fuels   []Fuel
}

// NewLibrary creates an empty library.
func NewLibrary() *Library {
	return &Library{
		recipes: make(map[string]Recipe),
		smelts:  make(map[string]string),
	}
}

type fileFormat struct {
	Recipes []Recipe `yaml:"recipes"`
	Smelts  []Smelt  `yaml:"smelts"`
	Fuels   []Fuel   `yaml:"fuels"`
}

// LoadFile reads a YAML table file into a library.
func LoadFile(path string) (*Library, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipe file: %w", err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse recipe file: %w", err)
	}

	l := NewLibrary()
	for _, r := range f.Recipes {
		if err := l.AddRecipe(r); err != nil {
			return nil, err
		}
	}
	for _, s := range f.Smelts {
		l.AddSmelt(s.Input, s.Output)
	}
	for _, fu := range f.Fuels {
		l.AddFuel(fu.Item, fu.Smelts)
	}
	return l, nil
}

// AddRecipe registers a craft recipe.
func (l *Library) AddRecipe(r Recipe) error {
	if r.Output == "" || r.Count == 0 || len(r.Inputs) == 0 {
		return fmt.Errorf("malformed recipe for %q", r.Output)
	}
	l.recipes[r.Output] = r
	return nil
}

// Get returns the craft recipe for a base id.
func (l *Library) Get(output string) (Recipe, bool) {
	r, ok := l.recipes[output]
	return r, ok
}

// AddSmelt registers a smelt mapping.
func (l *Library) AddSmelt(input, output string) {
	l.smelts[output] = input
}

// SmeltInput returns the furnace input that smelts into output.
func (l *Library) SmeltInput(output string) (string, bool) {
	in, ok := l.smelts[output]
	return in, ok
}

// Smeltable reports whether the base id can be produced by smelting.
func (l *Library) Smeltable(output string) bool {
	_, ok := l.smelts[output]
	return ok
}

// AddFuel appends a fuel to the priority list.
func (l *Library) AddFuel(item string, smelts uint) {
	l.fuels = append(l.fuels, Fuel{Item: item, Smelts: smelts})
}

// Fuels returns the fuel priority list.
func (l *Library) Fuels() []Fuel {
	return l.fuels
}

// IsFuel reports whether the base id is burnable.
func (l *Library) IsFuel(item string) (uint, bool) {
	for _, f := range l.fuels {
		if f.Item == item {
			return f.Smelts, true
		}
	}
	return 0, false
}
