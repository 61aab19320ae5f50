package driver

import (
	"context"
	"errors"

	"github.com/voxelforge/fabric/pkg/types"
)

var (
	// ErrUnavailable is returned when a container did not respond.
	ErrUnavailable = errors.New("container unavailable")

	// ErrBlocked is returned when a target slot or block is protected.
	ErrBlocked = errors.New("target blocked")
)

// Stack is a snapshot of one occupied slot.
type Stack struct {
	Key   types.ItemKey
	Count uint
}

// Discovered describes one container found on the peripheral fabric.
type Discovered struct {
	Name string
	Role types.Role
}

// Driver abstracts the physical transfer layer. One implementation is
// provided by the host environment; tests and simulation use SimDriver.
//
// Push and Pull are best-effort atomic at the item-count level: the
// runtime either moves the returned number of items or none of those
// specific items. A zero return with a nil error is a legal outcome.
// Implementations must be safe to invoke concurrently on disjoint
// (container, slot) pairs; concurrent calls on the same slot are
// serialised internally.
type Driver interface {
	// Discover enumerates containers currently reachable on the fabric.
	Discover(ctx context.Context) ([]Discovered, error)

	// List returns a snapshot of the container's occupied slots.
	List(ctx context.Context, container string) (map[int]Stack, error)

	// Detail returns the cached-on-first-observation detail blob for a
	// slot, or nil when the slot is empty.
	Detail(ctx context.Context, container string, slot int) (*types.SlotItem, error)

	// Push moves up to n items from srcSlot of container into dest.
	// destSlot zero lets the runtime pick destination slots. Returns the
	// number actually moved.
	Push(ctx context.Context, container string, srcSlot int, n uint, dest string, destSlot int) (uint, error)

	// Pull is the dual of Push: it moves up to n items from srcSlot of
	// src into container.
	Pull(ctx context.Context, container string, src string, srcSlot int, n uint, destSlot int) (uint, error)

	// Size returns the container's slot capacity.
	Size(ctx context.Context, container string) (int, error)
}
