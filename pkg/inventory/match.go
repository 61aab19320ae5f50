package inventory

import "github.com/voxelforge/fabric/pkg/types"

// Matches evaluates an NBT predicate (item, mode, hash) against a
// slot's item key.
//
//	any:   base id equal
//	none:  base id equal and the slot has no NBT hash
//	with:  base id equal and the slot has an NBT hash
//	exact: full item key equal
//
// An empty mode behaves as "any". The wildcard item "*" matches every
// base id.
func Matches(key types.ItemKey, item string, mode types.NBTMode, hash string) bool {
	if item != "*" && key.BaseID != item {
		return false
	}
	switch mode {
	case "", types.NBTAny:
		return true
	case types.NBTNone:
		return !key.HasNBT()
	case types.NBTWith:
		return key.HasNBT()
	case types.NBTExact:
		return key.NBTHash == hash
	default:
		return false
	}
}

// MatchesSpec evaluates a slot spec's predicate against a key.
func MatchesSpec(key types.ItemKey, spec types.SlotSpec) bool {
	return Matches(key, spec.Item, spec.NBTMode, spec.NBTHash)
}
