package book

import "maps"

const locatorShards = 256

// orderLoc is where an order rests: its side and the canonical price key.
type orderLoc struct {
	side Side
	key  string
}

type locatorIndex = [locatorShards]map[string]orderLoc

// locator maps order ids to their level. Published snapshots share its
// shard maps; a shard is copied on the first write after a publish, so a
// batch only pays for the shards it touches.
type locator struct {
	shards locatorIndex
	shared [locatorShards]bool
}

func newLocator() *locator {
	x := &locator{}
	x.reset()
	return x
}

// shardOf is 32-bit FNV-1a over the id.
func shardOf(id string) int {
	h := uint32(2166136261)
	for i := 0; i < len(id); i++ {
		h ^= uint32(id[i])
		h *= 16777619
	}
	return int(h % locatorShards)
}

func (x *locator) writable(id string) map[string]orderLoc {
	i := shardOf(id)
	if x.shared[i] {
		x.shards[i] = maps.Clone(x.shards[i])
		x.shared[i] = false
	}
	return x.shards[i]
}

func (x *locator) set(id string, loc orderLoc) {
	x.writable(id)[id] = loc
}

func (x *locator) del(id string) {
	delete(x.writable(id), id)
}

// freeze hands the current shards to a snapshot. They are never written
// again.
func (x *locator) freeze() locatorIndex {
	for i := range x.shared {
		x.shared[i] = true
	}
	return x.shards
}

// reset replaces every shard, leaving frozen ones untouched.
func (x *locator) reset() {
	for i := range x.shards {
		x.shards[i] = make(map[string]orderLoc)
		x.shared[i] = false
	}
}

func lookup(idx *locatorIndex, id string) (orderLoc, bool) {
	loc, ok := idx[shardOf(id)][id]
	return loc, ok
}
