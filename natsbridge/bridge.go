// Package natsbridge connects a running engine to NATS. Engine events are
// published as JSON on "<prefix>.events.<type>" subjects; module lifecycle
// messages arriving on "<prefix>.modules.<kind>" are fed back into the
// engine. The bridge is optional: the in-process event channel remains the
// canonical delivery path and the engine runs fully without NATS.
package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/flownet/config"
	"github.com/c360/flownet/engine"
	"github.com/c360/flownet/errors"
	"github.com/c360/flownet/event"
	"github.com/c360/flownet/pkg/retry"
)

// moduleEnvelope is the wire form of an inbound module lifecycle message.
// Kind may be carried in the payload or derived from the subject suffix.
type moduleEnvelope struct {
	engine.ModuleEvent
}

// Bridge relays events between an engine and a NATS server.
type Bridge struct {
	cfg    config.NATSConfig
	eng    *engine.Engine
	logger *slog.Logger

	connect func() (*nats.Conn, error)

	mu          sync.Mutex
	conn        *nats.Conn
	sub         *nats.Subscription
	unsubscribe func()
	started     bool
}

// Option adjusts bridge construction.
type Option func(*Bridge)

// WithConnector overrides how the bridge dials NATS. Used by tests to
// substitute an in-memory server.
func WithConnector(fn func() (*nats.Conn, error)) Option {
	return func(b *Bridge) { b.connect = fn }
}

// New creates a bridge for the given engine. Connection happens in Start.
func New(cfg config.NATSConfig, eng *engine.Engine, logger *slog.Logger, opts ...Option) (*Bridge, error) {
	if eng == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("engine cannot be nil: %w", errors.ErrValidation),
			"natsbridge", "New", "validation")
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bridge{
		cfg:    cfg,
		eng:    eng,
		logger: logger.With("component", "natsbridge"),
	}
	b.connect = b.dial
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Bridge) dial() (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("flownet-bridge"),
		nats.MaxReconnects(b.cfg.MaxReconnects),
		nats.ReconnectWait(b.cfg.ReconnectWait.Std()),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	switch {
	case b.cfg.Token != "":
		opts = append(opts, nats.Token(b.cfg.Token))
	case b.cfg.Username != "":
		opts = append(opts, nats.UserInfo(b.cfg.Username, b.cfg.Password))
	}
	return nats.Connect(strings.Join(b.cfg.URLs, ","), opts...)
}

// Start connects to NATS with retry, subscribes to module lifecycle subjects
// and begins forwarding engine events.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return errors.WrapInvalid(
			fmt.Errorf("bridge already started: %w", errors.ErrValidation),
			"natsbridge", "Start", "validation")
	}

	var conn *nats.Conn
	err := retry.Do(ctx, retry.Quick(), func() error {
		var dialErr error
		conn, dialErr = b.connect()
		return dialErr
	})
	if err != nil {
		return errors.WrapTransient(err, "natsbridge", "Start", "connect to NATS")
	}
	b.conn = conn

	sub, err := conn.Subscribe(b.moduleSubject(">"), b.handleModuleMessage)
	if err != nil {
		conn.Close()
		b.conn = nil
		return errors.Wrap(err, "natsbridge", "Start", "subscribe to module subjects")
	}
	b.sub = sub

	b.unsubscribe = b.eng.Events().Subscribe(b.forwardEvent)
	b.started = true
	b.logger.Info("NATS bridge started",
		"url", conn.ConnectedUrl(), "prefix", b.cfg.SubjectPrefix)
	return nil
}

// Stop detaches from the engine, drains the subscription and closes the
// connection. Safe to call when never started.
func (b *Bridge) Stop(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	b.started = false

	if b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}
	if b.sub != nil {
		if err := b.sub.Drain(); err != nil {
			b.logger.Warn("Module subscription drain failed", "error", err)
		}
		b.sub = nil
	}
	if b.conn != nil {
		conn := b.conn
		done := make(chan struct{})
		go func() {
			conn.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			b.logger.Warn("NATS connection close timed out", "timeout", timeout)
		}
		b.conn = nil
	}
	b.logger.Info("NATS bridge stopped")
	return nil
}

// forwardEvent publishes one engine event. Failures are logged and dropped:
// the bridge is an observer, never a gate on engine progress.
func (b *Bridge) forwardEvent(ev event.Event) {
	conn := b.connection()
	if conn == nil {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("Event marshal failed", "type", ev.EventType(), "error", err)
		return
	}
	subject := b.eventSubject(ev.EventType())
	if err := conn.Publish(subject, payload); err != nil {
		b.logger.Warn("Event publish failed", "subject", subject, "error", err)
	}
}

func (b *Bridge) handleModuleMessage(msg *nats.Msg) {
	var env moduleEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.logger.Warn("Module message decode failed", "subject", msg.Subject, "error", err)
		return
	}
	if env.Kind == "" {
		env.Kind = kindFromSubject(msg.Subject)
	}
	if !b.eng.HandleModuleEvent(env.ModuleEvent) {
		b.logger.Warn("Module event not applied",
			"subject", msg.Subject, "kind", env.Kind, "module_id", env.ModuleID)
	}
}

func (b *Bridge) connection() *nats.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	return b.conn
}

func (b *Bridge) eventSubject(t event.Type) string {
	return fmt.Sprintf("%s.events.%s", b.cfg.SubjectPrefix, t)
}

func (b *Bridge) moduleSubject(suffix string) string {
	return fmt.Sprintf("%s.modules.%s", b.cfg.SubjectPrefix, suffix)
}

// kindFromSubject maps the last subject token to a module event kind, so
// publishers may use "<prefix>.modules.module_created" with a bare payload.
func kindFromSubject(subject string) engine.ModuleEventKind {
	idx := strings.LastIndex(subject, ".")
	if idx < 0 || idx == len(subject)-1 {
		return ""
	}
	return engine.ModuleEventKind(subject[idx+1:])
}
