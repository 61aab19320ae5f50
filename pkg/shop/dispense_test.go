package shop

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxelforge/fabric/pkg/driver"
	"github.com/voxelforge/fabric/pkg/inventory"
	"github.com/voxelforge/fabric/pkg/registry"
	"github.com/voxelforge/fabric/pkg/transfer"
	"github.com/voxelforge/fabric/pkg/types"
)

func newDispenseWorld(t *testing.T) (*transfer.Engine, *inventory.Index, *driver.SimDriver) {
	t.Helper()
	sim := driver.NewSimDriver()
	sim.AddContainer("chest", 27, types.RoleStorage)
	sim.AddContainer("aisle_chest_1", 27, types.RoleAgentInbox)
	sim.SetSlot("chest", 1, coalKey, 50)
	idx := inventory.New(sim, zerolog.Nop())
	_, err := idx.Scan(context.Background(), true)
	require.NoError(t, err)
	return transfer.New(sim, idx, zerolog.Nop()), idx, sim
}

func TestTransferDispenserMovesToAisle(t *testing.T) {
	xfer, _, sim := newDispenseWorld(t)
	d := NewTransferDispenser(xfer, nil)

	product := &types.Product{Name: "coal", Item: coalKey, Aisle: "aisle_chest_1"}
	moved, err := d.Dispense(context.Background(), product, 10)
	require.NoError(t, err)
	assert.Equal(t, uint(10), moved)
	assert.Equal(t, uint(10), sim.Count("aisle_chest_1", coalKey))
}

func TestTransferDispenserPartialOnShortStock(t *testing.T) {
	xfer, _, _ := newDispenseWorld(t)
	d := NewTransferDispenser(xfer, nil)

	product := &types.Product{Name: "coal", Item: coalKey, Aisle: "aisle_chest_1"}
	moved, err := d.Dispense(context.Background(), product, 80)
	require.NoError(t, err, "short stock is a partial dispense, not an error")
	assert.Equal(t, uint(50), moved)
}

func TestTransferDispenserRefusesOfflineAisle(t *testing.T) {
	xfer, _, _ := newDispenseWorld(t)

	past := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := past
	reg := registry.New(nil, zerolog.Nop(), registry.WithClock(func() time.Time { return clock }))
	reg.Heartbeat("aisle_1", types.AgentKindAisle, "North")
	clock = past.Add(10 * time.Minute)

	d := NewTransferDispenser(xfer, reg)
	product := &types.Product{Name: "coal", Item: coalKey, Aisle: "aisle_chest_1", AisleID: "aisle_1"}
	_, err := d.Dispense(context.Background(), product, 1)
	assert.ErrorIs(t, err, ErrAisleOffline)
}

func TestTransferDispenserNoAisleConfigured(t *testing.T) {
	xfer, _, _ := newDispenseWorld(t)
	d := NewTransferDispenser(xfer, nil)

	_, err := d.Dispense(context.Background(), &types.Product{Name: "coal", Item: coalKey}, 1)
	assert.Error(t, err)
}

func TestIndexStockSumsVariants(t *testing.T) {
	_, idx, sim := newDispenseWorld(t)
	signed := types.ItemKey{BaseID: "minecraft:coal", NBTHash: "abc123"}
	sim.SetSlot("chest", 2, signed, 7)
	_, err := idx.Scan(context.Background(), true)
	require.NoError(t, err)

	s := IndexStock{Idx: idx}
	assert.Equal(t, uint(57), s.StockOf(coalKey), "hashless key counts all variants")
	assert.Equal(t, uint(7), s.StockOf(signed), "hashed key is exact")
}
