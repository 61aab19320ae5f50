package driver

import (
	"context"
	"sort"
	"sync"

	"github.com/voxelforge/fabric/pkg/types"
)

// DefaultMaxStack is the per-slot capacity the simulator enforces.
const DefaultMaxStack = 64

type simContainer struct {
	mu          sync.Mutex
	name        string
	role        types.Role
	size        int
	slots       map[int]Stack
	unavailable bool
	blocked     map[int]bool
}

// SimDriver is an in-memory Driver used by tests and the simulation
// world. It enforces the same slot semantics as the real fabric:
// 1-based slots, bounded stacks, no mixing of item keys in one slot.
type SimDriver struct {
	mu         sync.RWMutex
	containers map[string]*simContainer
	maxStack   uint
}

// NewSimDriver creates an empty simulated fabric.
func NewSimDriver() *SimDriver {
	return &SimDriver{
		containers: make(map[string]*simContainer),
		maxStack:   DefaultMaxStack,
	}
}

// AddContainer registers a container with the given slot capacity.
func (d *SimDriver) AddContainer(name string, size int, role types.Role) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.containers[name] = &simContainer{
		name:    name,
		role:    role,
		size:    size,
		slots:   make(map[int]Stack),
		blocked: make(map[int]bool),
	}
}

// RemoveContainer drops a container from the fabric, simulating a
// peripheral disappearing.
func (d *SimDriver) RemoveContainer(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.containers, name)
}

// SetSlot places a stack directly into a slot, replacing its content.
// A zero count clears the slot.
func (d *SimDriver) SetSlot(name string, slot int, key types.ItemKey, count uint) {
	c := d.container(name)
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if count == 0 {
		delete(c.slots, slot)
		return
	}
	c.slots[slot] = Stack{Key: key, Count: count}
}

// SetUnavailable toggles failure injection for a container.
func (d *SimDriver) SetUnavailable(name string, v bool) {
	if c := d.container(name); c != nil {
		c.mu.Lock()
		c.unavailable = v
		c.mu.Unlock()
	}
}

// SetBlocked toggles the protected flag on one slot.
func (d *SimDriver) SetBlocked(name string, slot int, v bool) {
	if c := d.container(name); c != nil {
		c.mu.Lock()
		c.blocked[slot] = v
		c.mu.Unlock()
	}
}

// Count sums the items matching key across a container, for assertions.
func (d *SimDriver) Count(name string, key types.ItemKey) uint {
	c := d.container(name)
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var total uint
	for _, s := range c.slots {
		if s.Key == key {
			total += s.Count
		}
	}
	return total
}

func (d *SimDriver) container(name string) *simContainer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.containers[name]
}

// Discover implements Driver.
func (d *SimDriver) Discover(ctx context.Context) ([]Discovered, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Discovered, 0, len(d.containers))
	for _, c := range d.containers {
		out = append(out, Discovered{Name: c.name, Role: c.role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// List implements Driver.
func (d *SimDriver) List(ctx context.Context, container string) (map[int]Stack, error) {
	c := d.container(container)
	if c == nil {
		return nil, ErrUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unavailable {
		return nil, ErrUnavailable
	}
	out := make(map[int]Stack, len(c.slots))
	for slot, s := range c.slots {
		out[slot] = s
	}
	return out, nil
}

// Detail implements Driver.
func (d *SimDriver) Detail(ctx context.Context, container string, slot int) (*types.SlotItem, error) {
	c := d.container(container)
	if c == nil {
		return nil, ErrUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unavailable {
		return nil, ErrUnavailable
	}
	s, ok := c.slots[slot]
	if !ok {
		return nil, nil
	}
	return &types.SlotItem{
		Key:   s.Key,
		Count: s.Count,
		Detail: &types.ItemDetail{
			DisplayName: s.Key.BaseID,
			MaxCount:    d.maxStack,
		},
	}, nil
}

// Size implements Driver.
func (d *SimDriver) Size(ctx context.Context, container string) (int, error) {
	c := d.container(container)
	if c == nil {
		return 0, ErrUnavailable
	}
	return c.size, nil
}

// Push implements Driver.
func (d *SimDriver) Push(ctx context.Context, container string, srcSlot int, n uint, dest string, destSlot int) (uint, error) {
	return d.move(container, srcSlot, n, dest, destSlot)
}

// Pull implements Driver.
func (d *SimDriver) Pull(ctx context.Context, container string, src string, srcSlot int, n uint, destSlot int) (uint, error) {
	return d.move(src, srcSlot, n, container, destSlot)
}

// move transfers up to n items between two containers. Both containers
// are locked in name order so concurrent moves cannot deadlock.
func (d *SimDriver) move(src string, srcSlot int, n uint, dest string, destSlot int) (uint, error) {
	sc := d.container(src)
	dc := d.container(dest)
	if sc == nil || dc == nil {
		return 0, ErrUnavailable
	}

	first, second := sc, dc
	if sc == dc {
		second = nil
	} else if dc.name < sc.name {
		first, second = dc, sc
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	if second != nil {
		second.mu.Lock()
		defer second.mu.Unlock()
	}

	if sc.unavailable || dc.unavailable {
		return 0, ErrUnavailable
	}
	if sc.blocked[srcSlot] {
		return 0, ErrBlocked
	}

	stack, ok := sc.slots[srcSlot]
	if !ok || n == 0 {
		return 0, nil
	}
	want := n
	if stack.Count < want {
		want = stack.Count
	}

	var moved uint
	if destSlot > 0 {
		if dc.blocked[destSlot] {
			return 0, ErrBlocked
		}
		moved = d.placeInto(dc, destSlot, stack.Key, want)
	} else {
		moved = d.distribute(dc, stack.Key, want)
	}

	if moved > 0 {
		stack.Count -= moved
		if stack.Count == 0 {
			delete(sc.slots, srcSlot)
		} else {
			sc.slots[srcSlot] = stack
		}
	}
	return moved, nil
}

// placeInto puts up to n items into one specific slot.
func (d *SimDriver) placeInto(c *simContainer, slot int, key types.ItemKey, n uint) uint {
	if slot > c.size {
		return 0
	}
	cur, occupied := c.slots[slot]
	if occupied && cur.Key != key {
		return 0
	}
	room := d.maxStack
	if occupied {
		if cur.Count >= d.maxStack {
			return 0
		}
		room = d.maxStack - cur.Count
	}
	if n > room {
		n = room
	}
	if occupied {
		cur.Count += n
		c.slots[slot] = cur
	} else {
		c.slots[slot] = Stack{Key: key, Count: n}
	}
	return n
}

// distribute fills same-key stacks with room first, then empty slots,
// scanning slots in ascending order.
func (d *SimDriver) distribute(c *simContainer, key types.ItemKey, n uint) uint {
	var moved uint
	for slot := 1; slot <= c.size && n > 0; slot++ {
		cur, ok := c.slots[slot]
		if !ok || cur.Key != key || cur.Count >= d.maxStack {
			continue
		}
		take := d.maxStack - cur.Count
		if take > n {
			take = n
		}
		cur.Count += take
		c.slots[slot] = cur
		moved += take
		n -= take
	}
	for slot := 1; slot <= c.size && n > 0; slot++ {
		if _, ok := c.slots[slot]; ok {
			continue
		}
		if c.blocked[slot] {
			continue
		}
		take := n
		if take > d.maxStack {
			take = d.maxStack
		}
		c.slots[slot] = Stack{Key: key, Count: take}
		moved += take
		n -= take
	}
	return moved
}
