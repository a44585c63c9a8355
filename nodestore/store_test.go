package nodestore

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flownet/errors"
	"github.com/c360/flownet/event"
	"github.com/c360/flownet/resource"
)

// recordingInvalidator captures invalidation notices for assertions.
type recordingInvalidator struct {
	mu    sync.Mutex
	types []resource.Type
}

func (r *recordingInvalidator) Invalidate(t resource.Type) {
	r.mu.Lock()
	r.types = append(r.types, t)
	r.mu.Unlock()
}

func (r *recordingInvalidator) contains(t resource.Type) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.types {
		if got == t {
			return true
		}
	}
	return false
}

func producerNode(id string, types ...resource.Type) *Node {
	if len(types) == 0 {
		types = []resource.Type{resource.Minerals}
	}
	return &Node{ID: id, Role: RoleProducer, Resources: types, Capacity: 100, Efficiency: 1.0, Active: true}
}

func consumerNode(id string, types ...resource.Type) *Node {
	if len(types) == 0 {
		types = []resource.Type{resource.Minerals}
	}
	return &Node{ID: id, Role: RoleConsumer, Resources: types, Capacity: 100, Efficiency: 1.0, Active: true}
}

func TestRegisterNode_Validation(t *testing.T) {
	store := NewStore(nil, nil, slog.Default())

	tests := []struct {
		name string
		node *Node
	}{
		{"nil node", nil},
		{"empty id", &Node{Role: RoleProducer, Resources: []resource.Type{resource.Minerals}}},
		{"no resources", &Node{ID: "n1", Role: RoleProducer}},
		{"bad role", &Node{ID: "n1", Role: "pump", Resources: []resource.Type{resource.Minerals}}},
		{"unknown resource", &Node{ID: "n1", Role: RoleProducer, Resources: []resource.Type{"antimatter"}}},
		{"converter without config", &Node{ID: "n1", Role: RoleConverter, Resources: []resource.Type{resource.Minerals}}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := store.RegisterNode(test.node)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	assert.Empty(t, store.Nodes())
}

func TestRegisterNode_IndexesAndInvalidates(t *testing.T) {
	inv := &recordingInvalidator{}
	store := NewStore(inv, nil, slog.Default())

	require.NoError(t, store.RegisterNode(producerNode("p1", resource.Minerals, resource.Gas)))

	node, ok := store.Node("p1")
	require.True(t, ok)
	assert.Equal(t, RoleProducer, node.Role)

	assert.Len(t, store.NodesByRole(RoleProducer), 1)
	assert.Empty(t, store.NodesByRole(RoleConsumer))

	assert.True(t, inv.contains(resource.Minerals))
	assert.True(t, inv.contains(resource.Gas))
}

func TestRegisterNode_ConverterGetsStatus(t *testing.T) {
	store := NewStore(nil, nil, slog.Default())

	conv := &Node{
		ID: "c1", Role: RoleConverter, Resources: []resource.Type{resource.Minerals},
		Converter: &ConverterConfig{SupportedRecipes: []string{"r1"}, MaxConcurrentProcesses: 2},
		Active:    true,
	}
	require.NoError(t, store.RegisterNode(conv))

	got, ok := store.Node("c1")
	require.True(t, ok)
	require.NotNil(t, got.Status)
	assert.Empty(t, got.Status.ActiveProcesses)
}

func TestRegisterNode_ReplaceKeepsConverterStatus(t *testing.T) {
	store := NewStore(nil, nil, slog.Default())

	conv := &Node{
		ID: "c1", Role: RoleConverter, Resources: []resource.Type{resource.Minerals},
		Converter: &ConverterConfig{SupportedRecipes: []string{"r1"}, MaxConcurrentProcesses: 1},
		Active:    true,
	}
	require.NoError(t, store.RegisterNode(conv))
	require.True(t, store.UpdateConverterStatus("c1", func(s *ConverterStatus) {
		s.ActiveProcesses = append(s.ActiveProcesses, "proc-1")
		s.CompletedCount = 3
	}))

	// A module update re-registers the node without carrying live status.
	require.NoError(t, store.RegisterNode(&Node{
		ID: "c1", Role: RoleConverter, Resources: []resource.Type{resource.Minerals},
		Converter: &ConverterConfig{SupportedRecipes: []string{"r1"}, MaxConcurrentProcesses: 1},
		Active:    true,
		Capacity:  42,
	}))

	got, ok := store.Node("c1")
	require.True(t, ok)
	assert.InDelta(t, 42.0, got.Capacity, 1e-9)
	require.NotNil(t, got.Status)
	assert.Equal(t, []string{"proc-1"}, got.Status.ActiveProcesses)
	assert.Equal(t, int64(3), got.Status.CompletedCount)

	// A replacement that does carry status keeps its own.
	require.NoError(t, store.RegisterNode(&Node{
		ID: "c1", Role: RoleConverter, Resources: []resource.Type{resource.Minerals},
		Converter: &ConverterConfig{SupportedRecipes: []string{"r1"}, MaxConcurrentProcesses: 1},
		Active:    true,
		Status:    &ConverterStatus{CompletedCount: 9},
	}))
	got, _ = store.Node("c1")
	assert.Equal(t, int64(9), got.Status.CompletedCount)
	assert.Empty(t, got.Status.ActiveProcesses)
}

func TestRegisterConnection_Validation(t *testing.T) {
	store := NewStore(nil, nil, slog.Default())
	require.NoError(t, store.RegisterNode(producerNode("p1", resource.Minerals)))
	require.NoError(t, store.RegisterNode(consumerNode("c1", resource.Minerals)))

	tests := []struct {
		name string
		conn *Connection
	}{
		{"nil", nil},
		{"empty id", &Connection{Source: "p1", Target: "c1", Resource: resource.Minerals, MaxRate: 10}},
		{"zero rate", &Connection{ID: "x", Source: "p1", Target: "c1", Resource: resource.Minerals, MaxRate: 0}},
		{"missing source", &Connection{ID: "x", Source: "ghost", Target: "c1", Resource: resource.Minerals, MaxRate: 10}},
		{"missing target", &Connection{ID: "x", Source: "p1", Target: "ghost", Resource: resource.Minerals, MaxRate: 10}},
		{"source does not carry", &Connection{ID: "x", Source: "p1", Target: "c1", Resource: resource.Energy, MaxRate: 10}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := store.RegisterConnection(test.conn)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	assert.Empty(t, store.Connections())
}

func TestRegisterConnection_ClampsCurrentRate(t *testing.T) {
	store := NewStore(nil, nil, slog.Default())
	require.NoError(t, store.RegisterNode(producerNode("p1")))
	require.NoError(t, store.RegisterNode(consumerNode("c1")))

	conn := &Connection{
		ID: "k1", Source: "p1", Target: "c1", Resource: resource.Minerals,
		MaxRate: 10, CurrentRate: 50, Active: true,
	}
	require.NoError(t, store.RegisterConnection(conn))

	got, ok := store.Connection("k1")
	require.True(t, ok)
	assert.LessOrEqual(t, got.CurrentRate, got.MaxRate)
}

func TestUnregisterNode_CascadesConnections(t *testing.T) {
	inv := &recordingInvalidator{}
	pub := event.NewPublisher(slog.Default(), nil)
	store := NewStore(inv, pub, slog.Default())

	var removedEvent event.NodeUnregistered
	pub.Subscribe(func(ev event.Event) {
		if e, ok := ev.(event.NodeUnregistered); ok {
			removedEvent = e
		}
	}, event.TypeNodeUnregistered)

	require.NoError(t, store.RegisterNode(producerNode("p1")))
	require.NoError(t, store.RegisterNode(consumerNode("c1")))
	require.NoError(t, store.RegisterNode(consumerNode("c2")))
	require.NoError(t, store.RegisterConnection(&Connection{
		ID: "k1", Source: "p1", Target: "c1", Resource: resource.Minerals, MaxRate: 10, Active: true,
	}))
	require.NoError(t, store.RegisterConnection(&Connection{
		ID: "k2", Source: "p1", Target: "c2", Resource: resource.Minerals, MaxRate: 10, Active: true,
	}))

	require.True(t, store.UnregisterNode("p1"))

	// Every connection referencing p1 is gone.
	assert.Empty(t, store.Connections())
	_, ok := store.Node("p1")
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"k1", "k2"}, removedEvent.RemovedConnections)
	assert.True(t, inv.contains(resource.Minerals))
}

func TestUnregisterNode_Unknown(t *testing.T) {
	store := NewStore(nil, nil, slog.Default())
	assert.False(t, store.UnregisterNode("ghost"))
}

func TestUnregisterConnection(t *testing.T) {
	store := NewStore(nil, nil, slog.Default())
	require.NoError(t, store.RegisterNode(producerNode("p1")))
	require.NoError(t, store.RegisterNode(consumerNode("c1")))
	require.NoError(t, store.RegisterConnection(&Connection{
		ID: "k1", Source: "p1", Target: "c1", Resource: resource.Minerals, MaxRate: 10, Active: true,
	}))

	assert.True(t, store.UnregisterConnection("k1"))
	assert.False(t, store.UnregisterConnection("k1"))
	assert.Empty(t, store.ConnectionsFrom("p1"))
	assert.Empty(t, store.ConnectionsTo("c1"))
}

func TestSetConnectionRate_ClampsToMax(t *testing.T) {
	store := NewStore(nil, nil, slog.Default())
	require.NoError(t, store.RegisterNode(producerNode("p1")))
	require.NoError(t, store.RegisterNode(consumerNode("c1")))
	require.NoError(t, store.RegisterConnection(&Connection{
		ID: "k1", Source: "p1", Target: "c1", Resource: resource.Minerals, MaxRate: 10, Active: true,
	}))

	assert.True(t, store.SetConnectionRate("k1", 25))
	got, _ := store.Connection("k1")
	assert.Equal(t, 10.0, got.CurrentRate)

	assert.True(t, store.SetConnectionRate("k1", -5))
	got, _ = store.Connection("k1")
	assert.Equal(t, 0.0, got.CurrentRate)

	assert.False(t, store.SetConnectionRate("ghost", 1))
}

func TestSetNodeActive(t *testing.T) {
	store := NewStore(nil, nil, slog.Default())
	require.NoError(t, store.RegisterNode(producerNode("p1")))

	assert.True(t, store.SetNodeActive("p1", false))
	node, _ := store.Node("p1")
	assert.False(t, node.Active)

	assert.False(t, store.SetNodeActive("ghost", true))
}

func TestUpdateConverterStatus(t *testing.T) {
	store := NewStore(nil, nil, slog.Default())
	require.NoError(t, store.RegisterNode(&Node{
		ID: "c1", Role: RoleConverter, Resources: []resource.Type{resource.Minerals},
		Converter: &ConverterConfig{SupportedRecipes: []string{"r1"}, MaxConcurrentProcesses: 1},
		Active:    true,
	}))

	ok := store.UpdateConverterStatus("c1", func(s *ConverterStatus) {
		s.ActiveProcesses = append(s.ActiveProcesses, "proc-1")
	})
	require.True(t, ok)

	node, _ := store.Node("c1")
	assert.Equal(t, []string{"proc-1"}, node.Status.ActiveProcesses)

	require.NoError(t, store.RegisterNode(producerNode("p1")))
	assert.False(t, store.UpdateConverterStatus("p1", func(*ConverterStatus) {}))
	assert.False(t, store.UpdateConverterStatus("ghost", func(*ConverterStatus) {}))
}

func TestConverterStatus_RecordCompletion(t *testing.T) {
	var s ConverterStatus
	s.RecordCompletion(1.0)
	s.RecordCompletion(3.0)

	assert.Equal(t, int64(2), s.CompletedCount)
	assert.InDelta(t, 2.0, s.AverageEfficiency, 1e-9)
}

func TestNodeCopiesAreIsolated(t *testing.T) {
	store := NewStore(nil, nil, slog.Default())
	require.NoError(t, store.RegisterNode(&Node{
		ID: "c1", Role: RoleConverter, Resources: []resource.Type{resource.Minerals},
		Converter: &ConverterConfig{SupportedRecipes: []string{"r1"}, MaxConcurrentProcesses: 1},
		Active:    true,
	}))

	first, _ := store.Node("c1")
	first.Status.ActiveProcesses = append(first.Status.ActiveProcesses, "rogue")

	second, _ := store.Node("c1")
	assert.Empty(t, second.Status.ActiveProcesses)
}
