// Package natsmedium bridges the radio medium over a NATS message bus.
//
// Containers without direct controller access exchange advertisements as
// JSON messages: inbound observations arrive on <prefix>.observations and
// outbound frames are published per advertising set on <prefix>.frames.<set>.
package natsmedium

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/beacon-relay/brc/internal/medium"
)

// Config holds the connection parameters for a NATS-backed medium.
type Config struct {
	URL           string
	SubjectPrefix string
	Name          string
}

// observationMsg is the wire form of one observed advertisement.
type observationMsg struct {
	Addr    string `json:"addr"`
	RSSI    int8   `json:"rssi"`
	Payload []byte `json:"payload"`
}

// frameMsg is the wire form of one dispatched relay frame.
type frameMsg struct {
	Set      int           `json:"set"`
	Duration time.Duration `json:"duration_ns"`
	Frame    []byte        `json:"frame"`
}

// NATSMedium implements medium.Medium over a NATS connection.
type NATSMedium struct {
	conn   *nats.Conn
	prefix string
	log    zerolog.Logger

	mu     sync.Mutex
	sub    *nats.Subscription
	staged map[int][]byte
	active map[int]*time.Timer
}

// New connects to the NATS server and returns a medium bound to the
// configured subject prefix.
func New(cfg Config, log zerolog.Logger) (*NATSMedium, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url is required")
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "brc"
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().Str("url", cfg.URL).Str("prefix", cfg.SubjectPrefix).Msg("nats medium connected")

	return &NATSMedium{
		conn:   conn,
		prefix: cfg.SubjectPrefix,
		log:    log,
		staged: make(map[int][]byte),
		active: make(map[int]*time.Timer),
	}, nil
}

// StartScan subscribes to the observation subject and feeds decoded
// messages to the handler. Malformed messages are dropped.
func (m *NATSMedium) StartScan(ctx context.Context, handler medium.ObservationHandler) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sub != nil {
		return medium.ErrBusy
	}

	subject := m.prefix + ".observations"
	sub, err := m.conn.Subscribe(subject, func(msg *nats.Msg) {
		var wire observationMsg
		if err := json.Unmarshal(msg.Data, &wire); err != nil {
			m.log.Debug().Err(err).Msg("dropping malformed observation message")
			return
		}
		addr, err := medium.ParseAddr(wire.Addr)
		if err != nil {
			m.log.Debug().Err(err).Str("addr", wire.Addr).Msg("dropping observation with bad address")
			return
		}
		handler(medium.Observation{Addr: addr, RSSI: wire.RSSI, Payload: wire.Payload})
	})
	if err != nil {
		return m.normalize(err)
	}

	m.sub = sub
	m.log.Info().Str("subject", subject).Msg("scan started")
	return nil
}

// StopScan drains the observation subscription.
func (m *NATSMedium) StopScan() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopScanLocked()
}

func (m *NATSMedium) stopScanLocked() error {
	if m.sub == nil {
		return nil
	}
	if err := m.sub.Unsubscribe(); err != nil {
		return m.normalize(err)
	}
	m.sub = nil
	return nil
}

// SetBroadcastData stages frame bytes on a set. Staging while the set is
// still broadcasting fails with ErrBusy.
func (m *NATSMedium) SetBroadcastData(set int, frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.active[set]; busy {
		return medium.ErrBusy
	}

	m.staged[set] = append([]byte(nil), frame...)
	return nil
}

// StartBroadcast publishes the staged frame and marks the set active for
// the given duration. The set deactivates itself when the duration elapses,
// mirroring duration-limited advertising.
func (m *NATSMedium) StartBroadcast(set int, duration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.active[set]; busy {
		return medium.ErrBusy
	}
	frame, ok := m.staged[set]
	if !ok {
		return medium.ErrInternal
	}

	data, err := json.Marshal(frameMsg{Set: set, Duration: duration, Frame: frame})
	if err != nil {
		return fmt.Errorf("failed to marshal frame message: %w", err)
	}

	subject := m.prefix + ".frames." + strconv.Itoa(set)
	if err := m.conn.Publish(subject, data); err != nil {
		return m.normalize(err)
	}

	m.active[set] = time.AfterFunc(duration, func() {
		m.mu.Lock()
		delete(m.active, set)
		m.mu.Unlock()
	})

	m.log.Debug().Int("set", set).Int("bytes", len(frame)).Msg("frame published")
	return nil
}

// StopBroadcast deactivates a set early. Stopping an idle set is a no-op.
func (m *NATSMedium) StopBroadcast(set int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if timer, ok := m.active[set]; ok {
		timer.Stop()
		delete(m.active, set)
	}
	return nil
}

// Reset drops all scan and broadcast state and flushes the connection.
func (m *NATSMedium) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.stopScanLocked(); err != nil {
		return err
	}
	for set, timer := range m.active {
		timer.Stop()
		delete(m.active, set)
	}
	m.staged = make(map[int][]byte)

	if err := m.conn.FlushWithContext(ctx); err != nil {
		return m.normalize(err)
	}

	m.log.Info().Msg("nats medium reset")
	return nil
}

// Close terminates the NATS connection.
func (m *NATSMedium) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_ = m.stopScanLocked()
	m.conn.Close()
	return nil
}

// normalize maps NATS client errors to the shared medium sentinels.
func (m *NATSMedium) normalize(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionDraining),
		errors.Is(err, nats.ErrNoServers):
		return &medium.StackError{Code: medium.ErrUnavailable, Original: err}
	case errors.Is(err, nats.ErrTimeout):
		return &medium.StackError{Code: medium.ErrBusy, Original: err}
	default:
		return &medium.StackError{Code: medium.ErrInternal, Original: err}
	}
}
