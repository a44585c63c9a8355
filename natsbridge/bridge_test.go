package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flownet/config"
	"github.com/c360/flownet/engine"
	"github.com/c360/flownet/errors"
	"github.com/c360/flownet/event"
	"github.com/c360/flownet/metric"
	"github.com/c360/flownet/nodestore"
	"github.com/c360/flownet/pkg/retry"
	"github.com/c360/flownet/resource"
)

func newTestBridge(t *testing.T) (*Bridge, *engine.Engine) {
	t.Helper()
	eng, err := engine.New(context.Background(), config.Default(), slog.Default(), metric.NewMetrics())
	require.NoError(t, err)

	cfg := config.Default().NATS
	b, err := New(cfg, eng, slog.Default())
	require.NoError(t, err)
	return b, eng
}

func TestNew_RequiresEngine(t *testing.T) {
	_, err := New(config.Default().NATS, nil, slog.Default())
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestSubjects(t *testing.T) {
	b, _ := newTestBridge(t)

	assert.Equal(t, "flownet.events.flow_optimized", b.eventSubject(event.TypeFlowOptimized))
	assert.Equal(t, "flownet.modules.>", b.moduleSubject(">"))
}

func TestKindFromSubject(t *testing.T) {
	assert.Equal(t, engine.ModuleCreated, kindFromSubject("flownet.modules.module_created"))
	assert.Equal(t, engine.ModuleEventKind(""), kindFromSubject("flownet"))
	assert.Equal(t, engine.ModuleEventKind(""), kindFromSubject("flownet.modules."))
}

func TestHandleModuleMessage_AppliesToEngine(t *testing.T) {
	b, eng := newTestBridge(t)

	payload, err := json.Marshal(engine.ModuleEvent{
		Kind:       engine.ModuleCreated,
		ModuleID:   "relay-7",
		Role:       nodestore.RoleProducer,
		Resources:  []resource.Type{resource.Energy},
		Capacity:   25,
		Efficiency: 1.0,
		Active:     true,
	})
	require.NoError(t, err)

	b.handleModuleMessage(&nats.Msg{Subject: "flownet.modules.module_created", Data: payload})

	node, found := eng.Node("relay-7")
	require.True(t, found)
	assert.Equal(t, nodestore.RoleProducer, node.Role)
}

func TestHandleModuleMessage_KindFromSubject(t *testing.T) {
	b, eng := newTestBridge(t)

	payload, err := json.Marshal(engine.ModuleEvent{
		ModuleID:   "relay-8",
		Role:       nodestore.RoleConsumer,
		Resources:  []resource.Type{resource.Energy},
		Capacity:   10,
		Efficiency: 1.0,
		Active:     true,
	})
	require.NoError(t, err)

	b.handleModuleMessage(&nats.Msg{Subject: "flownet.modules.module_created", Data: payload})

	_, found := eng.Node("relay-8")
	assert.True(t, found)
}

func TestHandleModuleMessage_BadPayloadIgnored(t *testing.T) {
	b, eng := newTestBridge(t)

	b.handleModuleMessage(&nats.Msg{Subject: "flownet.modules.module_created", Data: []byte("{not json")})

	assert.Empty(t, eng.Nodes())
}

func TestStart_ConnectFailure(t *testing.T) {
	eng, err := engine.New(context.Background(), config.Default(), slog.Default(), metric.NewMetrics())
	require.NoError(t, err)

	b, err := New(config.Default().NATS, eng, slog.Default(),
		WithConnector(func() (*nats.Conn, error) {
			return nil, retry.NonRetryable(fmt.Errorf("server unreachable"))
		}))
	require.NoError(t, err)

	err = b.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestStop_NeverStarted(t *testing.T) {
	b, _ := newTestBridge(t)
	assert.NoError(t, b.Stop(time.Second))
}

func TestForwardEvent_NoConnectionIsNoop(t *testing.T) {
	b, _ := newTestBridge(t)
	// Not started: must return without touching a connection.
	b.forwardEvent(event.NewConnectionUnregistered("c1"))
}
