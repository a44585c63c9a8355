package optimizer

import (
	"math"
	"sort"
	"time"

	"github.com/c360/flownet/nodestore"
	"github.com/c360/flownet/resource"
)

// Storage thresholds: a storage node above the high-water mark withholds its
// unused headroom from availability; below the low-water mark it pulls 20%
// of its capacity as extra demand.
const (
	storageHighWater = 0.9
	storageLowWater  = 0.1
	storageRefillPct = 0.2
)

// Issue thresholds.
const (
	bottleneckFactor    = 1.1
	underutilizedFactor = 1.5
)

// Balance is the availability/demand pair for one resource type.
type Balance struct {
	Availability float64 `json:"availability"`
	Demand       float64 `json:"demand"`
}

// Transfer records one non-zero flow produced by an optimization pass.
type Transfer struct {
	Resource  resource.Type `json:"resource"`
	Source    string        `json:"source"`
	Target    string        `json:"target"`
	Amount    float64       `json:"amount"`
	Timestamp time.Time     `json:"timestamp"`
}

// snapshot is the pure, copyable input to one optimization pass. It is what
// crosses the worker boundary, serialized, when the pass is offloaded.
type snapshot struct {
	Nodes       []*nodestore.Node                `json:"nodes"`
	Connections []*nodestore.Connection          `json:"connections"`
	States      map[resource.Type]resource.State `json:"states"`
	Timestamp   time.Time                        `json:"timestamp"`
}

// plan is the pure output of one optimization pass: the rates to apply and
// the analysis that produced them.
type plan struct {
	Balances      map[resource.Type]Balance `json:"balances"`
	Bottlenecks   []resource.Type           `json:"bottlenecks"`
	Underutilized []resource.Type           `json:"underutilized"`
	Rates         map[string]float64        `json:"rates"`
	Transfers     []Transfer                `json:"transfers"`
}

// computePlan runs the full balance/issues/rates pipeline on a snapshot. It
// touches no shared state, so it runs identically inline or on a worker.
func computePlan(snap *snapshot) *plan {
	p := &plan{
		Balances: calculateResourceBalance(snap),
		Rates:    make(map[string]float64),
	}
	p.Bottlenecks, p.Underutilized = identifyResourceIssues(p.Balances)
	optimizeFlowRates(snap, p)
	return p
}

// calculateResourceBalance aggregates availability and demand per resource
// type. Producers contribute their efficiency-scaled capacity when at least
// one active outgoing connection carries the type; consumer-bound connection
// max rates accumulate into demand; storage nodes adjust both sides from the
// type's aggregate fill fraction.
func calculateResourceBalance(snap *snapshot) map[resource.Type]Balance {
	nodes := make(map[string]*nodestore.Node, len(snap.Nodes))
	for _, n := range snap.Nodes {
		nodes[n.ID] = n
	}

	outgoing := make(map[string]map[resource.Type]bool)
	for _, c := range snap.Connections {
		if outgoing[c.Source] == nil {
			outgoing[c.Source] = make(map[resource.Type]bool)
		}
		outgoing[c.Source][c.Resource] = true
	}

	balances := make(map[resource.Type]Balance)

	for _, n := range snap.Nodes {
		if n.Role != nodestore.RoleProducer {
			continue
		}
		for _, t := range n.Resources {
			if !outgoing[n.ID][t] {
				continue
			}
			b := balances[t]
			b.Availability += n.Capacity * n.Efficiency
			balances[t] = b
		}
	}

	for _, c := range snap.Connections {
		target, ok := nodes[c.Target]
		if !ok || target.Role != nodestore.RoleConsumer {
			continue
		}
		b := balances[c.Resource]
		b.Demand += c.MaxRate
		balances[c.Resource] = b
	}

	for _, n := range snap.Nodes {
		if n.Role != nodestore.RoleStorage {
			continue
		}
		for _, t := range n.Resources {
			state, ok := snap.States[t]
			if !ok || state.Max <= 0 {
				continue
			}
			fill := state.Current / state.Max
			b := balances[t]
			switch {
			case fill > storageHighWater:
				b.Availability -= n.Capacity * (1 - fill)
			case fill < storageLowWater:
				b.Demand += n.Capacity * storageRefillPct
			}
			balances[t] = b
		}
	}

	return balances
}

// identifyResourceIssues flags each balance as a bottleneck or
// underutilized. Results are sorted for stable output.
func identifyResourceIssues(balances map[resource.Type]Balance) (bottlenecks, underutilized []resource.Type) {
	for t, b := range balances {
		switch {
		case b.Demand > b.Availability*bottleneckFactor:
			bottlenecks = append(bottlenecks, t)
		case b.Availability > b.Demand*underutilizedFactor:
			underutilized = append(underutilized, t)
		}
	}
	sort.Slice(bottlenecks, func(i, j int) bool { return bottlenecks[i] < bottlenecks[j] })
	sort.Slice(underutilized, func(i, j int) bool { return underutilized[i] < underutilized[j] })
	return bottlenecks, underutilized
}

// optimizeFlowRates assigns each connection a rate from its resource's
// balance, highest priority first. Scarce resources are rationed
// proportionally so every connection gets the same fraction of its max rate.
func optimizeFlowRates(snap *snapshot, p *plan) {
	conns := make([]*nodestore.Connection, len(snap.Connections))
	copy(conns, snap.Connections)
	sort.SliceStable(conns, func(i, j int) bool { return conns[i].Priority > conns[j].Priority })

	for _, c := range conns {
		b := p.Balances[c.Resource]

		var rate float64
		switch {
		case b.Availability <= 0 || b.Demand <= 0:
			rate = 0
		case b.Availability >= b.Demand:
			rate = math.Min(c.MaxRate, b.Demand)
		default:
			rate = c.MaxRate * (b.Availability / b.Demand)
		}

		p.Rates[c.ID] = rate
		if rate > 0 {
			p.Transfers = append(p.Transfers, Transfer{
				Resource:  c.Resource,
				Source:    c.Source,
				Target:    c.Target,
				Amount:    rate,
				Timestamp: snap.Timestamp,
			})
		}
	}
}
