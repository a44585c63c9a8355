package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flownet/config"
	"github.com/c360/flownet/conversion"
	"github.com/c360/flownet/errors"
	"github.com/c360/flownet/event"
	"github.com/c360/flownet/metric"
	"github.com/c360/flownet/nodestore"
	"github.com/c360/flownet/resource"
	"github.com/c360/flownet/statecache"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.ConversionTickInterval = config.Duration(5 * time.Millisecond)
	cfg.Engine.OptimizeInterval = 0

	e, err := New(context.Background(), cfg, slog.Default(), metric.NewMetrics())
	require.NoError(t, err)
	return e
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.TTL = 0
	_, err := New(context.Background(), cfg, slog.Default(), nil)
	assert.Error(t, err)

	// Nil config falls back to defaults.
	e, err := New(context.Background(), nil, slog.Default(), nil)
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestCreateFlow_RejectsInvalidSpec(t *testing.T) {
	e := newTestEngine(t)

	assert.False(t, e.CreateFlow(FlowSpec{Target: "c", Resources: []resource.Type{resource.Minerals}, MaxRate: 10}))
	assert.False(t, e.CreateFlow(FlowSpec{Source: "p", Resources: []resource.Type{resource.Minerals}, MaxRate: 10}))
	assert.False(t, e.CreateFlow(FlowSpec{Source: "p", Target: "c", MaxRate: 10}))
	assert.False(t, e.CreateFlow(FlowSpec{Source: "p", Target: "c", Resources: []resource.Type{resource.Minerals}}))
}

func TestCreateFlow_AutoCreatesEndpoints(t *testing.T) {
	e := newTestEngine(t)

	ok := e.CreateFlow(FlowSpec{
		Source:    "mine",
		Target:    "refinery",
		Resources: []resource.Type{resource.Minerals, resource.Gas},
		MaxRate:   10,
		Priority:  2,
	})
	require.True(t, ok)

	src, found := e.Node("mine")
	require.True(t, found)
	assert.Equal(t, nodestore.RoleProducer, src.Role)
	assert.InDelta(t, 20.0, src.Capacity, 1e-9)
	assert.True(t, src.Active)

	dst, found := e.Node("refinery")
	require.True(t, found)
	assert.Equal(t, nodestore.RoleConsumer, dst.Role)

	conns := e.Connections()
	require.Len(t, conns, 2)
	conn, found := e.Connection("mine-refinery-minerals")
	require.True(t, found)
	assert.Equal(t, "mine", conn.Source)
	assert.Equal(t, "refinery", conn.Target)
	assert.InDelta(t, 10.0, conn.MaxRate, 1e-9)
	assert.Equal(t, 2, conn.Priority)

	_, found = e.Connection("mine-refinery-gas")
	assert.True(t, found)
}

func TestCreateFlow_KeepsExistingNodes(t *testing.T) {
	e := newTestEngine(t)

	require.True(t, e.RegisterNode(&nodestore.Node{
		ID:         "mine",
		Role:       nodestore.RoleProducer,
		Resources:  []resource.Type{resource.Minerals},
		Capacity:   50,
		Efficiency: 1.5,
		Active:     true,
	}))

	require.True(t, e.CreateFlow(FlowSpec{
		Source:    "mine",
		Target:    "smelter",
		Resources: []resource.Type{resource.Minerals},
		MaxRate:   10,
	}))

	src, found := e.Node("mine")
	require.True(t, found)
	assert.InDelta(t, 50.0, src.Capacity, 1e-9)
	assert.InDelta(t, 1.5, src.Efficiency, 1e-9)
}

// A single producer feeding a single consumer at matching rates settles on
// one transfer carrying the full connection rate.
func TestOptimizeFlows_SingleProducerConsumer(t *testing.T) {
	e := newTestEngine(t)

	require.True(t, e.CreateFlow(FlowSpec{
		Source:    "P",
		Target:    "C",
		Resources: []resource.Type{resource.Minerals},
		MaxRate:   10,
		Priority:  1,
	}))

	result := e.OptimizeFlows()
	require.NotNil(t, result)
	require.Len(t, result.Transfers, 1)

	tr := result.Transfers[0]
	assert.Equal(t, resource.Minerals, tr.Resource)
	assert.Equal(t, "P", tr.Source)
	assert.Equal(t, "C", tr.Target)
	assert.InDelta(t, 10.0, tr.Amount, 1e-9)

	conn, found := e.Connection("P-C-minerals")
	require.True(t, found)
	assert.InDelta(t, 10.0, conn.CurrentRate, 1e-9)

	history := e.TransferHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "P", history[0].Source)
}

func TestHandleModuleEvent_Lifecycle(t *testing.T) {
	e := newTestEngine(t)

	created := ModuleEvent{
		Kind:       ModuleCreated,
		ModuleID:   "habitat-1",
		Role:       nodestore.RoleConsumer,
		Resources:  []resource.Type{resource.Energy},
		Capacity:   40,
		Efficiency: 1.0,
		Active:     true,
	}
	require.True(t, e.HandleModuleEvent(created))

	node, found := e.Node("habitat-1")
	require.True(t, found)
	assert.Equal(t, nodestore.RoleConsumer, node.Role)

	updated := created
	updated.Kind = ModuleUpdated
	updated.Capacity = 80
	require.True(t, e.HandleModuleEvent(updated))
	node, _ = e.Node("habitat-1")
	assert.InDelta(t, 80.0, node.Capacity, 1e-9)

	require.True(t, e.HandleModuleEvent(ModuleEvent{Kind: ModuleDisabled, ModuleID: "habitat-1"}))
	node, _ = e.Node("habitat-1")
	assert.False(t, node.Active)

	require.True(t, e.HandleModuleEvent(ModuleEvent{Kind: ModuleEnabled, ModuleID: "habitat-1"}))
	node, _ = e.Node("habitat-1")
	assert.True(t, node.Active)

	require.True(t, e.HandleModuleEvent(ModuleEvent{Kind: ModuleDestroyed, ModuleID: "habitat-1"}))
	_, found = e.Node("habitat-1")
	assert.False(t, found)
}

func TestHandleModuleEvent_Rejections(t *testing.T) {
	e := newTestEngine(t)

	assert.False(t, e.HandleModuleEvent(ModuleEvent{Kind: ModuleCreated}))
	assert.False(t, e.HandleModuleEvent(ModuleEvent{Kind: "module_exploded", ModuleID: "x"}))
	assert.False(t, e.HandleModuleEvent(ModuleEvent{Kind: ModuleDestroyed, ModuleID: "missing"}))
	assert.False(t, e.HandleModuleEvent(ModuleEvent{
		Kind:     ModuleCreated,
		ModuleID: "bad",
		Role:     "pipeline",
	}))
}

func TestHandleModuleEvent_UpdateKeepsConnections(t *testing.T) {
	e := newTestEngine(t)

	require.True(t, e.CreateFlow(FlowSpec{
		Source:    "P",
		Target:    "C",
		Resources: []resource.Type{resource.Minerals},
		MaxRate:   10,
	}))

	require.True(t, e.HandleModuleEvent(ModuleEvent{
		Kind:       ModuleUpdated,
		ModuleID:   "P",
		Role:       nodestore.RoleProducer,
		Resources:  []resource.Type{resource.Minerals},
		Capacity:   99,
		Efficiency: 1.0,
		Active:     true,
	}))

	_, found := e.Connection("P-C-minerals")
	assert.True(t, found)
}

// A module update re-registers the converter node; the live process load
// must carry over so the concurrency cap keeps holding.
func TestHandleModuleEvent_UpdateKeepsConverterLoad(t *testing.T) {
	e := newTestEngine(t)

	converter := ModuleEvent{
		Kind:       ModuleCreated,
		ModuleID:   "X",
		Role:       nodestore.RoleConverter,
		Resources:  []resource.Type{resource.Minerals, resource.Energy},
		Capacity:   100,
		Efficiency: 1.0,
		Active:     true,
		Converter: &nodestore.ConverterConfig{
			SupportedRecipes:       []string{"smelt"},
			MaxConcurrentProcesses: 1,
		},
	}
	require.True(t, e.HandleModuleEvent(converter))
	require.True(t, e.RegisterRecipe(&conversion.Recipe{
		ID:             "smelt",
		Inputs:         []statecache.Cost{{Type: resource.Minerals, Amount: 4}},
		Outputs:        []statecache.Cost{{Type: resource.Energy, Amount: 2}},
		BaseEfficiency: 1.0,
		ProcessingTime: 10 * time.Second,
	}))
	require.NoError(t, e.UpdateResourceState(resource.Minerals, resource.State{
		Current: 100, Max: 10000, Production: 10, Consumption: 6,
	}))

	_, err := e.StartConversion("X", "smelt")
	require.NoError(t, err)

	_, err = e.StartConversion("X", "smelt")
	require.Error(t, err)
	assert.True(t, errors.IsCapacityExceeded(err))

	converter.Kind = ModuleUpdated
	converter.Capacity = 120
	require.True(t, e.HandleModuleEvent(converter))

	_, err = e.StartConversion("X", "smelt")
	require.Error(t, err)
	assert.True(t, errors.IsCapacityExceeded(err))
	assert.Len(t, e.ConverterProcesses("X"), 1)
}

// Running engine drives a conversion from start to completion through the
// tick loop: inputs consumed, outputs produced, completion event published.
func TestLifecycle_ConversionCompletesThroughRunLoop(t *testing.T) {
	e := newTestEngine(t)

	require.True(t, e.RegisterNode(&nodestore.Node{
		ID:         "smelter",
		Role:       nodestore.RoleConverter,
		Resources:  []resource.Type{resource.Minerals, resource.Energy},
		Capacity:   100,
		Efficiency: 1.0,
		Active:     true,
		Converter: &nodestore.ConverterConfig{
			SupportedRecipes:       []string{"smelt"},
			MaxConcurrentProcesses: 1,
		},
	}))
	require.True(t, e.RegisterRecipe(&conversion.Recipe{
		ID:             "smelt",
		Inputs:         []statecache.Cost{{Type: resource.Minerals, Amount: 4}},
		Outputs:        []statecache.Cost{{Type: resource.Energy, Amount: 2}},
		BaseEfficiency: 1.0,
		ProcessingTime: 20 * time.Millisecond,
	}))
	require.NoError(t, e.UpdateResourceState(resource.Minerals, resource.State{
		Current: 100, Max: 10000, Production: 10, Consumption: 6,
	}))

	completed := make(chan event.ConversionCompleted, 1)
	unsubscribe := e.Events().Subscribe(func(ev event.Event) {
		if c, ok := ev.(event.ConversionCompleted); ok {
			select {
			case completed <- c:
			default:
			}
		}
	}, event.TypeConversionCompleted)
	defer unsubscribe()

	require.NoError(t, e.Start(context.Background()))
	defer func() {
		require.NoError(t, e.Stop(time.Second))
	}()

	mineralsBefore, ok := e.GetResourceState(resource.Minerals)
	require.True(t, ok)

	proc, err := e.StartConversion("smelter", "smelt")
	require.NoError(t, err)
	assert.Equal(t, conversion.StatusActive, proc.Status)

	select {
	case ev := <-completed:
		assert.Equal(t, proc.ID, ev.ProcessID)
	case <-time.After(2 * time.Second):
		t.Fatal("conversion did not complete")
	}

	mineralsAfter, ok := e.GetResourceState(resource.Minerals)
	require.True(t, ok)
	assert.InDelta(t, mineralsBefore.Current-4, mineralsAfter.Current, 1e-9)

	assert.Empty(t, e.ActiveProcesses())
	status, ok := e.ConverterStatus("smelter")
	require.True(t, ok)
	assert.Equal(t, int64(1), status.CompletedCount)
}

func TestLifecycle_StartTwiceAndStopIdempotent(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Start(context.Background()))
	assert.Error(t, e.Start(context.Background()))
	require.NoError(t, e.Stop(time.Second))
	require.NoError(t, e.Stop(time.Second))
}
