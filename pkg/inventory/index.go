package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/voxelforge/fabric/pkg/driver"
	"github.com/voxelforge/fabric/pkg/metrics"
	"github.com/voxelforge/fabric/pkg/types"
)

// scanWidth bounds the number of concurrent List calls during a scan.
const scanWidth = 16

// missingScansBeforeRemoval is how many consecutive scans a container
// may be absent from discovery before it is dropped from the index.
const missingScansBeforeRemoval = 2

// Location is one candidate source slot for an item key.
type Location struct {
	Container string
	Slot      int
	Key       types.ItemKey
	Count     uint
}

// Container is the cached view of one external container.
type Container struct {
	Name  string
	Role  types.Role
	Size  int
	Slots map[int]driver.Stack
	Empty int
	Stale bool // last List failed; entries retained but untrusted
	Dirty bool // a delta landed in an unknown slot; rescan deferred
}

// Index is the cached, incrementally updated view of every tracked
// container. It is authoritative-for-now: full scans are ground truth,
// deltas applied through RecordTransfer keep it current between scans.
//
// All mutation goes through Scan, RescanContainer and RecordTransfer.
// Readers see a consistent snapshot under the index mutex.
type Index struct {
	mu  sync.RWMutex
	drv driver.Driver
	log zerolog.Logger

	containers map[string]*Container
	stock      map[types.ItemKey]uint
	locations  map[types.ItemKey][]Location
	baseIndex  map[string]map[types.ItemKey]struct{}
	details    map[types.ItemKey]*types.ItemDetail
	missing    map[string]int
	discovered bool
	batching   bool
}

// New creates an empty index over the given driver.
func New(drv driver.Driver, logger zerolog.Logger) *Index {
	return &Index{
		drv:        drv,
		log:        logger.With().Str("component", "inventory").Logger(),
		containers: make(map[string]*Container),
		stock:      make(map[types.ItemKey]uint),
		locations:  make(map[types.ItemKey][]Location),
		baseIndex:  make(map[string]map[types.ItemKey]struct{}),
		details:    make(map[types.ItemKey]*types.ItemDetail),
		missing:    make(map[string]int),
	}
}

// Scan rebuilds the index from the world. With force set (or on the
// first scan) containers are rediscovered; otherwise the known set is
// refreshed. List calls run in parallel; a container that fails List is
// retained with its previous entries and flagged stale. A container
// absent from discovery for two consecutive scans is removed together
// with all derived entries.
func (x *Index) Scan(ctx context.Context, force bool) (map[string]uint, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ScanDuration)

	roles := make(map[string]types.Role)
	sizes := make(map[string]int)

	x.mu.RLock()
	known := make([]string, 0, len(x.containers))
	for name, c := range x.containers {
		known = append(known, name)
		roles[name] = c.Role
		sizes[name] = c.Size
	}
	needDiscovery := force || !x.discovered
	x.mu.RUnlock()

	targets := known
	if needDiscovery {
		found, err := x.drv.Discover(ctx)
		if err != nil {
			return nil, fmt.Errorf("discover containers: %w", err)
		}
		seen := make(map[string]bool, len(found))
		targets = make([]string, 0, len(found))
		for _, d := range found {
			seen[d.Name] = true
			roles[d.Name] = d.Role
			targets = append(targets, d.Name)
		}
		x.mu.Lock()
		for _, name := range known {
			if seen[name] {
				x.missing[name] = 0
				continue
			}
			x.missing[name]++
			if x.missing[name] >= missingScansBeforeRemoval {
				x.removeContainerLocked(name)
				delete(x.missing, name)
			}
		}
		x.discovered = true
		x.mu.Unlock()
	}

	// Gather snapshots outside the lock.
	type listing struct {
		name  string
		slots map[int]driver.Stack
		size  int
		err   error
	}
	results := make([]listing, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanWidth)
	for i, name := range targets {
		i, name := i, name
		g.Go(func() error {
			slots, err := x.drv.List(gctx, name)
			size := sizes[name]
			if err == nil && size == 0 {
				size, err = x.drv.Size(gctx, name)
			}
			results[i] = listing{name: name, slots: slots, size: size, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for _, r := range results {
		if r.err != nil {
			x.log.Debug().Str("container", r.name).Err(r.err).Msg("list failed, retaining stale entries")
			if c, ok := x.containers[r.name]; ok {
				c.Stale = true
			}
			continue
		}
		x.containers[r.name] = &Container{
			Name:  r.name,
			Role:  roles[r.name],
			Size:  r.size,
			Slots: r.slots,
			Empty: r.size - len(r.slots),
		}
	}
	x.rebuildDerivedLocked()
	return x.stockMapLocked(), nil
}

// RescanContainer refreshes a single container, clearing its dirty and
// stale flags on success.
func (x *Index) RescanContainer(ctx context.Context, name string) error {
	x.mu.RLock()
	c, ok := x.containers[name]
	role := types.RoleStorage
	size := 0
	if ok {
		role, size = c.Role, c.Size
	}
	x.mu.RUnlock()
	if !ok {
		return fmt.Errorf("container %s not tracked", name)
	}

	slots, err := x.drv.List(ctx, name)
	if err != nil {
		x.SetStale(name)
		return fmt.Errorf("list %s: %w", name, err)
	}
	if size == 0 {
		if size, err = x.drv.Size(ctx, name); err != nil {
			return fmt.Errorf("size %s: %w", name, err)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.containers[name] = &Container{
		Name:  name,
		Role:  role,
		Size:  size,
		Slots: slots,
		Empty: size - len(slots),
	}
	x.rebuildDerivedLocked()
	return nil
}

// RecordTransfer applies one delta: n items of key moved from
// (from, fromSlot) to (to, toSlot). A zero toSlot means the destination
// slot is unknown; the delta is placed optimistically and the container
// flagged dirty so the next scan verifies it. Stock and locations count
// storage-role containers only, so items pushed into buffers, furnaces
// or inboxes leave stock and items pulled back in re-enter it.
func (x *Index) RecordTransfer(from string, fromSlot int, to string, toSlot int, key types.ItemKey, n uint) {
	if n == 0 {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	if src, ok := x.containers[from]; ok {
		if s, ok := src.Slots[fromSlot]; ok && s.Key == key {
			take := n
			if take > s.Count {
				take = s.Count
			}
			s.Count -= take
			if s.Count == 0 {
				delete(src.Slots, fromSlot)
				src.Empty++
			} else {
				src.Slots[fromSlot] = s
			}
			if src.Role == types.RoleStorage {
				x.adjustStockLocked(key, -int64(take))
				if !x.batching {
					x.removeLocationLocked(key, from, fromSlot, take)
				}
			}
		}
	}

	dst, tracked := x.containers[to]
	if !tracked {
		return
	}

	slot := toSlot
	if slot == 0 {
		slot = x.pickDestSlotLocked(dst, key)
		dst.Dirty = true
	}
	if slot == 0 {
		// No plausible slot in the cached view; the scan will catch up.
		return
	}
	cur, occupied := dst.Slots[slot]
	if occupied && cur.Key == key {
		cur.Count += n
		dst.Slots[slot] = cur
	} else if !occupied {
		dst.Slots[slot] = driver.Stack{Key: key, Count: n}
		dst.Empty--
	} else {
		// Cached view disagrees with the delta; trust reality later.
		dst.Dirty = true
		return
	}
	if dst.Role == types.RoleStorage {
		x.adjustStockLocked(key, int64(n))
		if !x.batching {
			x.addLocationLocked(key, to, slot, n)
		}
	}
}

// pickDestSlotLocked guesses where the runtime placed items when the
// destination slot was not reported: first same-key stack, else the
// lowest-numbered empty slot.
func (x *Index) pickDestSlotLocked(c *Container, key types.ItemKey) int {
	best := 0
	for slot, s := range c.Slots {
		if s.Key == key && (best == 0 || slot < best) {
			best = slot
		}
	}
	if best > 0 {
		return best
	}
	for slot := 1; slot <= c.Size; slot++ {
		if _, ok := c.Slots[slot]; !ok {
			return slot
		}
	}
	return 0
}

// BeginBatch suspends maintenance of the location and base indexes.
// Slots, stock and empty counts stay current; callers issuing many
// transfers in one control-loop iteration wrap them in a batch so the
// expensive derived structures are rebuilt once at EndBatch.
func (x *Index) BeginBatch() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.batching = true
}

// EndBatch rebuilds the derived structures and resumes incremental
// maintenance.
func (x *Index) EndBatch() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.batching = false
	x.rebuildDerivedLocked()
}

// GetStock returns the total count for an exact item key.
func (x *Index) GetStock(key types.ItemKey) uint {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.stock[key]
}

// GetAllStock returns a copy of the stock map keyed by item key.
func (x *Index) GetAllStock() map[types.ItemKey]uint {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[types.ItemKey]uint, len(x.stock))
	for k, v := range x.stock {
		out[k] = v
	}
	return out
}

// StockMap returns the stock map with textual item keys, for
// persistence and API responses.
func (x *Index) StockMap() map[string]uint {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.stockMapLocked()
}

func (x *Index) stockMapLocked() map[string]uint {
	out := make(map[string]uint, len(x.stock))
	for k, v := range x.stock {
		out[k.String()] = v
	}
	return out
}

// FindItem returns candidate source locations for an exact key, sorted
// by descending slot count, ties broken by (container, slot) so plans
// are deterministic. Storage-only queries exclude non-storage roles.
func (x *Index) FindItem(key types.ItemKey, storageOnly bool) []Location {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.filterLocationsLocked(x.locations[key], storageOnly)
}

// FindByBaseID returns candidate locations across every NBT variant of
// the base id, sorted like FindItem.
func (x *Index) FindByBaseID(baseID string, storageOnly bool) []Location {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var all []Location
	for key := range x.baseIndex[baseID] {
		all = append(all, x.locations[key]...)
	}
	return x.filterLocationsLocked(all, storageOnly)
}

// KeysForBase returns every item key with positive stock for a base id.
func (x *Index) KeysForBase(baseID string) []types.ItemKey {
	x.mu.RLock()
	defer x.mu.RUnlock()
	keys := make([]types.ItemKey, 0, len(x.baseIndex[baseID]))
	for key := range x.baseIndex[baseID] {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func (x *Index) filterLocationsLocked(in []Location, storageOnly bool) []Location {
	out := make([]Location, 0, len(in))
	for _, loc := range in {
		c, ok := x.containers[loc.Container]
		if !ok || c.Stale {
			continue
		}
		if storageOnly && c.Role != types.RoleStorage {
			continue
		}
		out = append(out, loc)
	}
	sortLocations(out)
	return out
}

func sortLocations(locs []Location) {
	sort.Slice(locs, func(i, j int) bool {
		if locs[i].Count != locs[j].Count {
			return locs[i].Count > locs[j].Count
		}
		if locs[i].Container != locs[j].Container {
			return locs[i].Container < locs[j].Container
		}
		return locs[i].Slot < locs[j].Slot
	})
}

// Slots returns a copy of a container's slot map.
func (x *Index) Slots(name string) map[int]driver.Stack {
	x.mu.RLock()
	defer x.mu.RUnlock()
	c, ok := x.containers[name]
	if !ok {
		return nil
	}
	out := make(map[int]driver.Stack, len(c.Slots))
	for slot, s := range c.Slots {
		out[slot] = s
	}
	return out
}

// Role returns the role of a tracked container.
func (x *Index) Role(name string) (types.Role, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	c, ok := x.containers[name]
	if !ok {
		return "", false
	}
	return c.Role, true
}

// EmptyCount returns the number of empty slots in a container.
func (x *Index) EmptyCount(name string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if c, ok := x.containers[name]; ok {
		return c.Empty
	}
	return 0
}

// Size returns the slot capacity of a tracked container.
func (x *Index) Size(name string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if c, ok := x.containers[name]; ok {
		return c.Size
	}
	return 0
}

// Containers returns the names of all tracked containers, sorted.
func (x *Index) Containers() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]string, 0, len(x.containers))
	for name := range x.containers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ContainersByRole returns tracked, non-stale containers with the given
// role, sorted by name.
func (x *Index) ContainersByRole(role types.Role) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []string
	for name, c := range x.containers {
		if c.Role == role && !c.Stale {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// StorageCandidates returns storage containers ordered by descending
// empty-slot count, used to pick drain targets. Ties break by name.
func (x *Index) StorageCandidates() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	type cand struct {
		name  string
		empty int
	}
	var cands []cand
	for name, c := range x.containers {
		if c.Role == types.RoleStorage && !c.Stale {
			cands = append(cands, cand{name, c.Empty})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].empty != cands[j].empty {
			return cands[i].empty > cands[j].empty
		}
		return cands[i].name < cands[j].name
	})
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.name
	}
	return out
}

// SetStale flags a container so transfer planning skips it until the
// next successful scan.
func (x *Index) SetStale(name string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if c, ok := x.containers[name]; ok {
		c.Stale = true
	}
}

// IsStale reports the stale flag of a container.
func (x *Index) IsStale(name string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	c, ok := x.containers[name]
	return ok && c.Stale
}

// DirtyContainers returns containers whose slot view needs a deferred
// rescan.
func (x *Index) DirtyContainers() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []string
	for name, c := range x.containers {
		if c.Dirty {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Detail returns the cached detail blob for an item key, fetching it
// from the driver on first observation.
func (x *Index) Detail(ctx context.Context, key types.ItemKey) *types.ItemDetail {
	x.mu.RLock()
	if d, ok := x.details[key]; ok {
		x.mu.RUnlock()
		return d
	}
	locs := x.filterLocationsLocked(x.locations[key], false)
	x.mu.RUnlock()

	for _, loc := range locs {
		item, err := x.drv.Detail(ctx, loc.Container, loc.Slot)
		if err != nil || item == nil || item.Key != key {
			continue
		}
		x.mu.Lock()
		x.details[key] = item.Detail
		x.mu.Unlock()
		return item.Detail
	}
	return nil
}

func (x *Index) adjustStockLocked(key types.ItemKey, delta int64) {
	cur := int64(x.stock[key]) + delta
	if cur <= 0 {
		delete(x.stock, key)
		if !x.batching {
			x.dropBaseLocked(key)
		}
		return
	}
	x.stock[key] = uint(cur)
	if !x.batching {
		x.addBaseLocked(key)
	}
}

func (x *Index) addBaseLocked(key types.ItemKey) {
	set, ok := x.baseIndex[key.BaseID]
	if !ok {
		set = make(map[types.ItemKey]struct{})
		x.baseIndex[key.BaseID] = set
	}
	set[key] = struct{}{}
}

func (x *Index) dropBaseLocked(key types.ItemKey) {
	if set, ok := x.baseIndex[key.BaseID]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(x.baseIndex, key.BaseID)
		}
	}
}

func (x *Index) addLocationLocked(key types.ItemKey, container string, slot int, n uint) {
	locs := x.locations[key]
	for i, loc := range locs {
		if loc.Container == container && loc.Slot == slot {
			locs[i].Count += n
			return
		}
	}
	x.locations[key] = append(locs, Location{Container: container, Slot: slot, Key: key, Count: n})
}

func (x *Index) removeLocationLocked(key types.ItemKey, container string, slot int, n uint) {
	locs := x.locations[key]
	for i, loc := range locs {
		if loc.Container != container || loc.Slot != slot {
			continue
		}
		if loc.Count <= n {
			x.locations[key] = append(locs[:i], locs[i+1:]...)
		} else {
			locs[i].Count -= n
		}
		return
	}
}

func (x *Index) removeContainerLocked(name string) {
	if _, ok := x.containers[name]; !ok {
		return
	}
	x.log.Info().Str("container", name).Msg("container gone, removing from index")
	delete(x.containers, name)
	x.rebuildDerivedLocked()
}

// rebuildDerivedLocked recomputes stock, locations and the base index
// from the raw slot maps. Only storage-role containers contribute;
// buffers, furnaces and inboxes are staging areas whose contents are
// already spoken for.
func (x *Index) rebuildDerivedLocked() {
	x.stock = make(map[types.ItemKey]uint)
	x.locations = make(map[types.ItemKey][]Location)
	x.baseIndex = make(map[string]map[types.ItemKey]struct{})
	for name, c := range x.containers {
		c.Empty = c.Size - len(c.Slots)
		if c.Role != types.RoleStorage {
			continue
		}
		for slot, s := range c.Slots {
			x.stock[s.Key] += s.Count
			x.locations[s.Key] = append(x.locations[s.Key], Location{
				Container: name,
				Slot:      slot,
				Key:       s.Key,
				Count:     s.Count,
			})
			x.addBaseLocked(s.Key)
		}
	}
	for key := range x.locations {
		sortLocations(x.locations[key])
	}
}
