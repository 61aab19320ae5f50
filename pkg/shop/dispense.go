package shop

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxelforge/fabric/pkg/inventory"
	"github.com/voxelforge/fabric/pkg/registry"
	"github.com/voxelforge/fabric/pkg/transfer"
	"github.com/voxelforge/fabric/pkg/types"
)

// ErrAisleOffline means the product's aisle agent is not responding to
// heartbeats.
var ErrAisleOffline = errors.New("aisle offline")

// TransferDispenser dispenses by withdrawing from storage into the
// product's aisle container. When a registry is wired, dispensing to
// an aisle whose agent is offline is refused.
type TransferDispenser struct {
	xfer *transfer.Engine
	reg  *registry.Registry
}

// NewTransferDispenser creates a dispenser. reg may be nil.
func NewTransferDispenser(xfer *transfer.Engine, reg *registry.Registry) *TransferDispenser {
	return &TransferDispenser{xfer: xfer, reg: reg}
}

func (d *TransferDispenser) Dispense(ctx context.Context, product *types.Product, qty uint) (uint, error) {
	if product.Aisle == "" {
		return 0, fmt.Errorf("product %s has no aisle container", product.Name)
	}
	if d.reg != nil && product.AisleID != "" {
		if h, err := d.reg.Health(product.AisleID); err == nil && h == types.HealthOffline {
			return 0, fmt.Errorf("%w: %s", ErrAisleOffline, product.AisleID)
		}
	}
	moved, err := d.xfer.Withdraw(ctx, product.Item, qty, product.Aisle, 0)
	if errors.Is(err, transfer.ErrInsufficientStock) {
		// Partial dispense is a legal outcome; the engine refunds the
		// difference.
		return moved, nil
	}
	return moved, err
}

// IndexStock measures live stock from the inventory index. A key with
// no NBT hash counts every variant of the base id.
type IndexStock struct {
	Idx *inventory.Index
}

func (s IndexStock) StockOf(key types.ItemKey) uint {
	if key.HasNBT() {
		return s.Idx.GetStock(key)
	}
	var total uint
	for _, k := range s.Idx.KeysForBase(key.BaseID) {
		total += s.Idx.GetStock(k)
	}
	return total
}
