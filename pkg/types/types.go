package types

import (
	"fmt"
	"strings"
	"time"
)

// ItemKey identifies an item as (base id, optional NBT hash).
// Two keys are equal when both components are equal; the NBT hash is
// never interpreted, only compared.
type ItemKey struct {
	BaseID  string `json:"baseId"`
	NBTHash string `json:"nbtHash,omitempty"`
}

// ParseItemKey decodes the textual form "base-id" or "base-id:nbt-hash".
// The base id itself may contain a namespace separator ("minecraft:coal"),
// so only a third colon-delimited field is treated as an NBT hash.
func ParseItemKey(s string) ItemKey {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) == 3 {
		return ItemKey{BaseID: parts[0] + ":" + parts[1], NBTHash: parts[2]}
	}
	return ItemKey{BaseID: s}
}

// String returns the textual encoding of the key.
func (k ItemKey) String() string {
	if k.NBTHash == "" {
		return k.BaseID
	}
	return k.BaseID + ":" + k.NBTHash
}

// HasNBT reports whether the key carries an NBT hash.
func (k ItemKey) HasNBT() bool {
	return k.NBTHash != ""
}

// BaseMatches reports a base-id match, ignoring the NBT hash.
func (k ItemKey) BaseMatches(other ItemKey) bool {
	return k.BaseID == other.BaseID
}

// IsZero reports whether the key is empty.
func (k ItemKey) IsZero() bool {
	return k.BaseID == ""
}

// SlotItem is the content of a single container slot.
type SlotItem struct {
	Key    ItemKey     `json:"key"`
	Count  uint        `json:"count"`
	Detail *ItemDetail `json:"detail,omitempty"`
}

// ItemDetail is the opaque structured blob returned by a driver Detail
// call, cached on first observation.
type ItemDetail struct {
	DisplayName string         `json:"displayName,omitempty"`
	MaxCount    uint           `json:"maxCount,omitempty"`
	Raw         map[string]any `json:"raw,omitempty"`
}

// Role is the semantic tag of a container. Transfer policy depends on it.
type Role string

const (
	RoleStorage      Role = "storage"
	RoleExportBuffer Role = "export-buffer"
	RoleFurnace      Role = "furnace"
	RoleAgentInbox   Role = "agent-inbox"
	RoleManipulator  Role = "manipulator"
)

// AgentKind is the flavour of a remote agent.
type AgentKind string

const (
	AgentKindCrafter AgentKind = "crafter"
	AgentKindWorker  AgentKind = "worker"
	AgentKindAisle   AgentKind = "aisle"
	AgentKindTurtle  AgentKind = "turtle"
)

// AgentStatus is the self-reported state of an agent.
type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusBusy    AgentStatus = "busy"
	AgentStatusOffline AgentStatus = "offline"
)

// Health is derived from the age of an agent's last heartbeat.
type Health string

const (
	HealthOnline   Health = "online"
	HealthDegraded Health = "degraded"
	HealthOffline  Health = "offline"
)

// Agent is a remote computing node reached over the message bus.
// Agents are implicitly registered on first heartbeat with empty
// capabilities; the dispatcher never sends typed work to an agent that
// has not claimed the matching capability.
type Agent struct {
	ID           string            `json:"id"`
	Kind         AgentKind         `json:"kind"`
	Label        string            `json:"label,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Status       AgentStatus       `json:"status"`
	LastSeen     time.Time         `json:"lastSeen"`
	CurrentJob   int64             `json:"currentJob,omitempty"`
	Stats        map[string]string `json:"stats,omitempty"`
	RegisteredAt time.Time         `json:"registeredAt"`
}

// HasCapability reports whether the agent has claimed the capability.
// An empty capability matches any agent.
func (a *Agent) HasCapability(cap string) bool {
	if cap == "" {
		return true
	}
	for _, c := range a.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// JobStatus is the state of a crafting job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusAssigned  JobStatus = "assigned"
	JobStatusCrafting  JobStatus = "crafting"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is an atomic unit of craft work dispatched to one agent.
// Materials is the exact per-craft input multiset scaled by the craft
// count, reserved against stock at creation. Map keys are encoded item
// keys so the record stays JSON-serialisable.
type Job struct {
	ID           int64           `json:"id"`
	Output       ItemKey         `json:"output"`
	Qty          uint            `json:"qty"`
	Recipe       string          `json:"recipe,omitempty"`
	Materials    map[string]uint `json:"materials,omitempty"`
	Status       JobStatus       `json:"status"`
	AssignedTo   string          `json:"assignedTo,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	AssignedAt   time.Time       `json:"assignedAt,omitempty"`
	StartedAt    time.Time       `json:"startedAt,omitempty"`
	FinishedAt   time.Time       `json:"finishedAt,omitempty"`
	ActualOutput uint            `json:"actualOutput,omitempty"`
	FailReason   string          `json:"failReason,omitempty"`
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	out := *j
	if j.Materials != nil {
		out.Materials = make(map[string]uint, len(j.Materials))
		for k, v := range j.Materials {
			out.Materials[k] = v
		}
	}
	return &out
}

// RequestStatus is the lifecycle state of a user-level request.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusQueued    RequestStatus = "queued"
	RequestStatusCrafting  RequestStatus = "crafting"
	RequestStatusSmelting  RequestStatus = "smelting"
	RequestStatusReady     RequestStatus = "ready"
	RequestStatusDelivered RequestStatus = "delivered"
	RequestStatusFailed    RequestStatus = "failed"
	RequestStatusCancelled RequestStatus = "cancelled"
)

// Request is a user-level goal that owns zero or more jobs.
type Request struct {
	ID        string        `json:"id"`
	Item      ItemKey       `json:"item"`
	Qty       uint          `json:"qty"`
	DeliverTo string        `json:"deliverTo,omitempty"`
	IsSmelt   bool          `json:"isSmelt,omitempty"`
	Status    RequestStatus `json:"status"`
	JobIDs    []int64       `json:"jobIds,omitempty"`
	Produced  uint          `json:"produced"`
	Delivered uint          `json:"delivered"`
	Reason    string        `json:"reason,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// ExportMode selects the direction a target's slot specs enforce.
type ExportMode string

const (
	ExportModeStock ExportMode = "stock"
	ExportModeEmpty ExportMode = "empty"
)

// NBTMode selects how a slot spec's item predicate treats NBT hashes.
type NBTMode string

const (
	NBTAny   NBTMode = "any"   // base id equal
	NBTNone  NBTMode = "none"  // base id equal and slot has no hash
	NBTWith  NBTMode = "with"  // base id equal and slot has a hash
	NBTExact NBTMode = "exact" // full item key equal
)

// SlotSpec is one declarative rule inside an export target.
// Item may be "*" (wildcard). Slot numbering is 1-based; zero means the
// spec applies to the whole container. SlotStart/SlotEnd describe an
// inclusive range.
type SlotSpec struct {
	Item      string  `json:"item" yaml:"item"`
	Qty       uint    `json:"qty" yaml:"qty"`
	Slot      int     `json:"slot,omitempty" yaml:"slot,omitempty"`
	SlotStart int     `json:"slotStart,omitempty" yaml:"slotStart,omitempty"`
	SlotEnd   int     `json:"slotEnd,omitempty" yaml:"slotEnd,omitempty"`
	NBTMode   NBTMode `json:"nbtMode,omitempty" yaml:"nbtMode,omitempty"`
	NBTHash   string  `json:"nbtHash,omitempty" yaml:"nbtHash,omitempty"`
	Vacuum    bool    `json:"vacuum,omitempty" yaml:"vacuum,omitempty"`
}

// Wildcard reports whether the spec matches every base id.
func (s SlotSpec) Wildcard() bool {
	return s.Item == "*"
}

// Range returns the inclusive slot range the spec covers, or (0, 0)
// when the spec covers the whole container.
func (s SlotSpec) Range() (int, int) {
	if s.Slot > 0 {
		return s.Slot, s.Slot
	}
	if s.SlotStart > 0 && s.SlotEnd >= s.SlotStart {
		return s.SlotStart, s.SlotEnd
	}
	return 0, 0
}

// ExportTarget binds a container name to a declarative slot policy.
type ExportTarget struct {
	Container string     `json:"container" yaml:"container"`
	Mode      ExportMode `json:"mode" yaml:"mode"`
	Slots     []SlotSpec `json:"slots,omitempty" yaml:"slots,omitempty"`
}

// Product is one entry in the shop catalogue. Stock is measured live
// from the inventory index, never stored.
type Product struct {
	Name      string    `json:"name"`
	Item      ItemKey   `json:"item"`
	Price     float64   `json:"price"`
	Aisle     string    `json:"aisle"`   // container the assigned aisle dispenses from
	AisleID   string    `json:"aisleId"` // agent id of the aisle
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Transaction is one record from the external transaction stream.
// Metadata is the raw "key=value; ...; bareValue" string.
type Transaction struct {
	ID       string    `json:"id"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Value    float64   `json:"value"`
	Metadata string    `json:"metadata,omitempty"`
	SeenAt   time.Time `json:"seenAt"`
}

// Sale is the persistent record of a completed shop purchase.
type Sale struct {
	ID        string    `json:"id"`
	Product   string    `json:"product"`
	Buyer     string    `json:"buyer"`
	Qty       uint      `json:"qty"`
	Value     float64   `json:"value"`
	Refunded  float64   `json:"refunded"`
	Timestamp time.Time `json:"timestamp"`
}

// SmeltTarget is a configured stock level for a smelted output.
type SmeltTarget struct {
	Output string `json:"output" yaml:"output"`
	Qty    uint   `json:"qty" yaml:"qty"`
}

// MaterialShortfall is one line of a missing-materials report.
type MaterialShortfall struct {
	Item   string `json:"item"`
	Needed uint   `json:"needed"`
	Have   uint   `json:"have"`
}

func (m MaterialShortfall) String() string {
	return fmt.Sprintf("%s need %d have %d", m.Item, m.Needed, m.Have)
}
