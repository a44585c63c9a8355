// Package optimizer computes flow rates for the resource network. Each pass
// snapshots the active graph, balances availability against demand per
// resource type, flags bottlenecks and underutilized types, and assigns every
// active connection a rate, rationing proportionally when supply falls short.
//
// Passes are single-flight: a call arriving while one is running waits for
// it and shares its result instead of starting a second computation. Large
// graphs can be offloaded to a worker pool as a serialized snapshot, with a
// synchronous fallback when the pool rejects or fails the pass.
package optimizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360/flownet/errors"
	"github.com/c360/flownet/event"
	"github.com/c360/flownet/metric"
	"github.com/c360/flownet/nodestore"
	"github.com/c360/flownet/pkg/buffer"
	"github.com/c360/flownet/pkg/worker"
	"github.com/c360/flownet/resource"
	"github.com/c360/flownet/statecache"
)

// Defaults for optional tuning knobs.
const (
	DefaultHistoryCapacity = 1000
	DefaultBatchThreshold  = 100
	DefaultOffloadTimeout  = 5 * time.Second
)

// Performance describes one optimization pass for observability.
type Performance struct {
	Duration             time.Duration `json:"duration"`
	NodesProcessed       int           `json:"nodes_processed"`
	ConnectionsProcessed int           `json:"connections_processed"`
	Offloaded            bool          `json:"offloaded"`
	Partitions           int           `json:"partitions,omitempty"`
}

// Result is the outcome of one optimization pass.
type Result struct {
	Transfers          []Transfer      `json:"transfers"`
	UpdatedConnections []string        `json:"updated_connections"`
	Bottlenecks        []resource.Type `json:"bottlenecks"`
	Underutilized      []resource.Type `json:"underutilized"`
	Performance        Performance     `json:"performance"`
}

type offloadResult struct {
	plan *plan
	err  error
}

type offloadTask struct {
	payload []byte
	reply   chan offloadResult
}

// Optimizer runs flow optimization passes over the node store.
type Optimizer struct {
	store   *nodestore.Store
	states  *statecache.Cache
	events  *event.Publisher
	metrics *metric.Metrics
	logger  *slog.Logger
	clock   func() time.Time

	history *buffer.Ring[Transfer]

	batchThreshold int
	offloadTimeout time.Duration
	regionSize     float64
	pool           *worker.Pool[*offloadTask]
	poolStarted    bool

	mu       sync.Mutex
	inFlight bool
	done     chan struct{}
	last     *Result
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *Optimizer) { o.clock = clock }
}

// WithHistoryCapacity bounds the transfer history ring.
func WithHistoryCapacity(capacity int) Option {
	return func(o *Optimizer) {
		if capacity > 0 {
			o.history = buffer.NewRing[Transfer](capacity)
		}
	}
}

// WithParallelOffload enables worker offload for graphs larger than
// batchThreshold nodes. Start must be called before offload takes effect.
func WithParallelOffload(workers, queueSize, batchThreshold int) Option {
	return func(o *Optimizer) {
		if batchThreshold > 0 {
			o.batchThreshold = batchThreshold
		}
		o.pool = worker.NewPool(workers, queueSize, o.processOffload)
	}
}

// WithOffloadTimeout bounds how long a pass waits for the worker before
// falling back to synchronous computation.
func WithOffloadTimeout(timeout time.Duration) Option {
	return func(o *Optimizer) {
		if timeout > 0 {
			o.offloadTimeout = timeout
		}
	}
}

// WithSpatialPartitioning computes balances and rates per square region of
// the given size instead of globally, so dense distant clusters do not
// starve each other.
func WithSpatialPartitioning(regionSize float64) Option {
	return func(o *Optimizer) {
		if regionSize > 0 {
			o.regionSize = regionSize
		}
	}
}

// New creates an Optimizer. events and metrics may be nil.
func New(store *nodestore.Store, states *statecache.Cache, events *event.Publisher, metrics *metric.Metrics, logger *slog.Logger, opts ...Option) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Optimizer{
		store:          store,
		states:         states,
		events:         events,
		metrics:        metrics,
		logger:         logger,
		clock:          time.Now,
		history:        buffer.NewRing[Transfer](DefaultHistoryCapacity),
		batchThreshold: DefaultBatchThreshold,
		offloadTimeout: DefaultOffloadTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start launches the offload worker pool, when one is configured.
func (o *Optimizer) Start(ctx context.Context) error {
	if o.pool == nil {
		return nil
	}
	if err := o.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "optimizer", "Start", "start offload pool")
	}
	o.mu.Lock()
	o.poolStarted = true
	o.mu.Unlock()
	return nil
}

// Stop drains the offload worker pool.
func (o *Optimizer) Stop(timeout time.Duration) error {
	if o.pool == nil {
		return nil
	}
	o.mu.Lock()
	o.poolStarted = false
	o.mu.Unlock()
	if err := o.pool.Stop(timeout); err != nil {
		return errors.Wrap(err, "optimizer", "Stop", "stop offload pool")
	}
	return nil
}

// Optimize runs one pass, or joins the pass already in flight. Overlapping
// callers all receive the in-flight pass's result; only one computation runs
// at a time.
func (o *Optimizer) Optimize() *Result {
	o.mu.Lock()
	if o.inFlight {
		done := o.done
		o.mu.Unlock()

		if o.metrics != nil {
			o.metrics.OptimizerCoalesced.Inc()
		}
		o.logger.Debug("Optimization request coalesced into in-flight pass")
		<-done

		o.mu.Lock()
		res := o.last
		o.mu.Unlock()
		return res
	}
	o.inFlight = true
	o.done = make(chan struct{})
	done := o.done
	o.mu.Unlock()

	res := o.run()

	o.mu.Lock()
	o.last = res
	o.inFlight = false
	o.mu.Unlock()
	close(done)
	return res
}

// LastResult returns the most recent completed pass, if any.
func (o *Optimizer) LastResult() (*Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return nil, false
	}
	return o.last, true
}

// TransferHistory returns the retained transfer records, oldest first.
func (o *Optimizer) TransferHistory() []Transfer {
	return o.history.Snapshot()
}

func (o *Optimizer) run() *Result {
	start := o.clock()
	snap := o.takeSnapshot(start)

	var (
		p         *plan
		offloaded bool
	)
	if o.shouldOffload(len(snap.Nodes)) {
		if offPlan, err := o.offloadCompute(snap); err != nil {
			if o.metrics != nil {
				o.metrics.OffloadFallbacks.Inc()
			}
			o.logger.Warn("Offloaded optimization failed, computing synchronously", "error", err)
			p = o.compute(snap)
		} else {
			p = offPlan
			offloaded = true
		}
	} else {
		p = o.compute(snap)
	}

	result := o.apply(snap, p)
	result.Performance = Performance{
		Duration:             o.clock().Sub(start),
		NodesProcessed:       len(snap.Nodes),
		ConnectionsProcessed: len(snap.Connections),
		Offloaded:            offloaded,
	}
	if o.regionSize > 0 {
		result.Performance.Partitions = len(partitionSnapshot(snap, o.regionSize))
	}

	if o.metrics != nil {
		o.metrics.OptimizerRuns.Inc()
		o.metrics.OptimizerDuration.Observe(result.Performance.Duration.Seconds())
	}
	if o.events != nil {
		o.events.Publish(event.NewFlowOptimized(
			len(result.Transfers), len(result.UpdatedConnections),
			result.Bottlenecks, result.Underutilized,
			result.Performance.Duration))
	}

	o.logger.Info("Flow optimization pass finished",
		"transfers", len(result.Transfers),
		"updated", len(result.UpdatedConnections),
		"bottlenecks", len(result.Bottlenecks),
		"underutilized", len(result.Underutilized),
		"offloaded", offloaded,
		"duration", result.Performance.Duration)
	return result
}

// takeSnapshot copies the active subgraph and resource states. Connections
// count only when they and both endpoints are active.
func (o *Optimizer) takeSnapshot(now time.Time) *snapshot {
	snap := &snapshot{
		States:    o.states.Snapshot(),
		Timestamp: now,
	}

	active := make(map[string]bool)
	for _, n := range o.store.Nodes() {
		if !n.Active {
			continue
		}
		active[n.ID] = true
		snap.Nodes = append(snap.Nodes, n)
	}
	for _, c := range o.store.Connections() {
		if c.Active && active[c.Source] && active[c.Target] {
			snap.Connections = append(snap.Connections, c)
		}
	}
	return snap
}

func (o *Optimizer) shouldOffload(nodeCount int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pool != nil && o.poolStarted && nodeCount > o.batchThreshold
}

// compute runs the pass inline, region by region when partitioning is on.
func (o *Optimizer) compute(snap *snapshot) *plan {
	if o.regionSize <= 0 {
		return computePlan(snap)
	}
	regions := partitionSnapshot(snap, o.regionSize)
	plans := make([]*plan, 0, len(regions))
	for _, region := range regions {
		plans = append(plans, computePlan(region))
	}
	return mergePlans(plans)
}

// offloadCompute serializes the snapshot, hands it to the worker pool and
// waits for the plan.
func (o *Optimizer) offloadCompute(snap *snapshot) (*plan, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("snapshot serialization: %v: %w", err, errors.ErrWorkerOffload),
			"optimizer", "offloadCompute", "serialize snapshot")
	}

	task := &offloadTask{payload: payload, reply: make(chan offloadResult, 1)}
	if err := o.pool.Submit(task); err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("submit rejected: %v: %w", err, errors.ErrWorkerOffload),
			"optimizer", "offloadCompute", "submit task")
	}

	select {
	case res := <-task.reply:
		if res.err != nil {
			return nil, res.err
		}
		return res.plan, nil
	case <-time.After(o.offloadTimeout):
		return nil, errors.WrapTransient(
			fmt.Errorf("no result within %v: %w", o.offloadTimeout, errors.ErrWorkerOffload),
			"optimizer", "offloadCompute", "await result")
	}
}

// processOffload is the worker-side half of offloadCompute.
func (o *Optimizer) processOffload(_ context.Context, task *offloadTask) error {
	var snap snapshot
	if err := json.Unmarshal(task.payload, &snap); err != nil {
		wrapped := errors.WrapTransient(
			fmt.Errorf("snapshot deserialization: %v: %w", err, errors.ErrWorkerOffload),
			"optimizer", "processOffload", "deserialize snapshot")
		task.reply <- offloadResult{err: wrapped}
		return wrapped
	}
	task.reply <- offloadResult{plan: o.compute(&snap)}
	return nil
}

// apply pushes the plan's rates into the store and records transfers.
func (o *Optimizer) apply(snap *snapshot, p *plan) *Result {
	previous := make(map[string]float64, len(snap.Connections))
	for _, c := range snap.Connections {
		previous[c.ID] = c.CurrentRate
	}

	var updated []string
	for id, rate := range p.Rates {
		if !o.store.SetConnectionRate(id, rate) {
			continue
		}
		if rate != previous[id] {
			updated = append(updated, id)
		}
	}
	sort.Strings(updated)

	for _, tr := range p.Transfers {
		o.history.Write(tr)
	}

	return &Result{
		Transfers:          p.Transfers,
		UpdatedConnections: updated,
		Bottlenecks:        p.Bottlenecks,
		Underutilized:      p.Underutilized,
	}
}
