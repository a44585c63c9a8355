package optimizer

import (
	"math"
	"sort"

	"github.com/c360/flownet/nodestore"
	"github.com/c360/flownet/resource"
)

type regionKey struct {
	X int
	Y int
}

// partitionSnapshot splits a snapshot into per-region snapshots on a square
// grid of regionSize. Nodes without a position land in the origin region. A
// connection belongs to its source's region; a cross-region consumer target
// is carried along, once, so demand accounting still sees it. Other roles
// contribute balance in their home region only and are never carried, or
// merging the per-region plans would count them twice.
func partitionSnapshot(snap *snapshot, regionSize float64) []*snapshot {
	regionOf := func(n *nodestore.Node) regionKey {
		if n.Position == nil {
			return regionKey{}
		}
		return regionKey{
			X: int(math.Floor(n.Position.X / regionSize)),
			Y: int(math.Floor(n.Position.Y / regionSize)),
		}
	}

	nodes := make(map[string]*nodestore.Node, len(snap.Nodes))
	regions := make(map[regionKey]*snapshot)
	region := func(k regionKey) *snapshot {
		s, ok := regions[k]
		if !ok {
			s = &snapshot{
				States:    snap.States,
				Timestamp: snap.Timestamp,
			}
			regions[k] = s
		}
		return s
	}

	for _, n := range snap.Nodes {
		nodes[n.ID] = n
		s := region(regionOf(n))
		s.Nodes = append(s.Nodes, n)
	}

	carried := make(map[regionKey]map[string]bool)
	for _, c := range snap.Connections {
		source, ok := nodes[c.Source]
		if !ok {
			continue
		}
		k := regionOf(source)
		s := region(k)
		s.Connections = append(s.Connections, c)

		target, ok := nodes[c.Target]
		if !ok || target.Role != nodestore.RoleConsumer || regionOf(target) == k {
			continue
		}
		if carried[k] == nil {
			carried[k] = make(map[string]bool)
		}
		if carried[k][target.ID] {
			continue
		}
		carried[k][target.ID] = true
		s.Nodes = append(s.Nodes, target)
	}

	out := make([]*snapshot, 0, len(regions))
	for _, s := range regions {
		out = append(out, s)
	}
	return out
}

// mergePlans folds per-region plans into one. Balances sum; issue lists are
// deduplicated and re-sorted; rates and transfers union.
func mergePlans(plans []*plan) *plan {
	merged := &plan{
		Balances: make(map[resource.Type]Balance),
		Rates:    make(map[string]float64),
	}
	seenBottleneck := make(map[resource.Type]bool)
	seenUnder := make(map[resource.Type]bool)

	for _, p := range plans {
		for t, b := range p.Balances {
			m := merged.Balances[t]
			m.Availability += b.Availability
			m.Demand += b.Demand
			merged.Balances[t] = m
		}
		for _, t := range p.Bottlenecks {
			if !seenBottleneck[t] {
				seenBottleneck[t] = true
				merged.Bottlenecks = append(merged.Bottlenecks, t)
			}
		}
		for _, t := range p.Underutilized {
			if !seenUnder[t] {
				seenUnder[t] = true
				merged.Underutilized = append(merged.Underutilized, t)
			}
		}
		for id, rate := range p.Rates {
			merged.Rates[id] = rate
		}
		merged.Transfers = append(merged.Transfers, p.Transfers...)
	}

	sort.Slice(merged.Bottlenecks, func(i, j int) bool { return merged.Bottlenecks[i] < merged.Bottlenecks[j] })
	sort.Slice(merged.Underutilized, func(i, j int) bool { return merged.Underutilized[i] < merged.Underutilized[j] })
	return merged
}
