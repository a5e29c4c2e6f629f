// Package eventbus provides an optional NATS-JetStream-backed Observer, so
// a host can fan a run's event stream out to other processes instead of
// keeping it strictly in-process via runtime.ChannelObserver.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/workflowcore/engine/internal/workflow/config"
	"github.com/workflowcore/engine/internal/workflow/runtime"
)

// NATSBus publishes every Emit call to a JetStream stream, subject-scoped by
// run id, following station's NATSEngine: an optional embedded server, one
// durable stream, subject = prefix.events.<run_id>.
type NATSBus struct {
	opts   config.EventBusConfig
	server *natsserver.Server
	conn   *nats.Conn
	js     nats.JetStreamContext
}

// New connects (and, if configured, first boots an embedded server) and
// ensures the configured stream exists. Returns (nil, nil) when disabled so
// callers can pass the result straight to runtime.Fanout without a nil
// check of their own.
func New(opts config.EventBusConfig) (*NATSBus, error) {
	if !opts.Enabled {
		return nil, nil
	}

	bus := &NATSBus{opts: opts}
	if opts.Embedded {
		srv, err := natsserver.NewServer(&natsserver.Options{Port: opts.EmbeddedPort, JetStream: true})
		if err != nil {
			return nil, fmt.Errorf("starting embedded nats: %w", err)
		}
		go srv.Start()
		if !srv.ReadyForConnections(5 * time.Second) {
			return nil, fmt.Errorf("embedded nats did not become ready")
		}
		bus.server = srv
		bus.opts.URL = fmt.Sprintf("nats://%s", srv.Addr().String())
	}

	conn, err := nats.Connect(bus.opts.URL)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	bus.conn = conn

	js, err := conn.JetStream()
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("initializing jetstream: %w", err)
	}
	bus.js = js

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     opts.Stream,
		Subjects: []string{opts.SubjectPrefix + ".>"},
		Storage:  nats.FileStorage,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		bus.Close()
		return nil, fmt.Errorf("creating stream: %w", err)
	}

	return bus, nil
}

// Emit implements runtime.Observer. Publish failures are swallowed: a
// dropped telemetry event must never fail a workflow run.
func (b *NATSBus) Emit(ev runtime.Event) {
	if b == nil || b.js == nil {
		return
	}
	subject := fmt.Sprintf("%s.events.%s", b.opts.SubjectPrefix, ev.RunID)
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = b.js.Publish(subject, data)
}

// Close drains the connection and, if embedded, shuts the server down.
func (b *NATSBus) Close() {
	if b == nil {
		return
	}
	if b.conn != nil {
		_ = b.conn.Drain()
		b.conn.Close()
	}
	if b.server != nil {
		b.server.Shutdown()
	}
}

var _ runtime.Observer = (*NATSBus)(nil)
