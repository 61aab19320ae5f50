package bus

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Recognised envelope types.
const (
	MsgPing          = "PING"
	MsgPong          = "PONG"
	MsgStatus        = "STATUS"
	MsgCraftRequest  = "CRAFT_REQUEST"
	MsgCraftComplete = "CRAFT_COMPLETE"
	MsgCraftFailed   = "CRAFT_FAILED"
	MsgWorkRequest   = "WORK_REQUEST"
	MsgWorkComplete  = "WORK_COMPLETE"
	MsgWorkFailed    = "WORK_FAILED"
	MsgCommand       = "COMMAND"
	MsgAck           = "ACK"
	MsgComplete      = "COMPLETE"
	MsgError         = "ERROR"
	MsgAislePing     = "AISLE-PING"
	MsgAislePong     = "AISLE-PONG"
	MsgShopSync      = "SHOPSYNC"
)

// ErrReceiveTimeout is returned by Receive when the timer fires first.
var ErrReceiveTimeout = errors.New("receive timeout")

// ErrBusClosed is returned after Stop.
var ErrBusClosed = errors.New("bus closed")

const maxDatagram = 64 * 1024

// Envelope is the typed wire record. Delivery is at-least-once with no
// ordering across senders; receivers filter on TargetID.
type Envelope struct {
	Type        string         `msgpack:"type"`
	SenderID    string         `msgpack:"senderId"`
	SenderLabel string         `msgpack:"senderLabel,omitempty"`
	TargetID    string         `msgpack:"targetId,omitempty"`
	Timestamp   int64          `msgpack:"timestamp"` // unix milliseconds
	Data        map[string]any `msgpack:"data,omitempty"`
}

// Handler processes one inbound envelope. Handlers run synchronously in
// the receive pump, so they must not block.
type Handler func(env *Envelope)

// Config holds bus addressing.
type Config struct {
	ListenAddr    string // e.g. ":47800"
	BroadcastAddr string // e.g. "255.255.255.255:47800"
	SelfID        string
	SelfLabel     string
}

// Bus is the wireless channel abstraction: msgpack envelopes over
// broadcast UDP. Envelopes addressed to another target are dropped at
// receive; everything else is dispatched to registered handlers or
// queued for Receive.
type Bus struct {
	cfg  Config
	conn net.PacketConn
	dest net.Addr
	log  zerolog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler

	inbox  chan *Envelope
	stopCh chan struct{}
	once   sync.Once
}

// New opens the bus socket. Start must be called to begin the pump.
func New(cfg Config, logger zerolog.Logger) (*Bus, error) {
	conn, err := net.ListenPacket("udp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	dest, err := net.ResolveUDPAddr("udp", cfg.BroadcastAddr)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("resolve broadcast %s: %w", cfg.BroadcastAddr, err)
	}
	return &Bus{
		cfg:      cfg,
		conn:     conn,
		dest:     dest,
		log:      logger.With().Str("component", "bus").Logger(),
		handlers: make(map[string][]Handler),
		inbox:    make(chan *Envelope, 100),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins the receive pump.
func (b *Bus) Start() {
	go b.pump()
}

// Stop closes the socket and stops the pump.
func (b *Bus) Stop() {
	b.once.Do(func() {
		close(b.stopCh)
		b.conn.Close()
	})
}

// LocalAddr returns the bound socket address.
func (b *Bus) LocalAddr() net.Addr {
	return b.conn.LocalAddr()
}

// On registers a handler for an envelope type. Multiple handlers per
// type run in registration order.
func (b *Bus) On(msgType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[msgType] = append(b.handlers[msgType], h)
}

// Send emits an envelope addressed to one target. An empty target is a
// broadcast. Delivery is best effort; the caller may retry.
func (b *Bus) Send(msgType string, data map[string]any, targetID string) error {
	env := &Envelope{
		Type:        msgType,
		SenderID:    b.cfg.SelfID,
		SenderLabel: b.cfg.SelfLabel,
		TargetID:    targetID,
		Timestamp:   time.Now().UnixMilli(),
		Data:        data,
	}
	raw, err := msgpack.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if _, err := b.conn.WriteTo(raw, b.dest); err != nil {
		select {
		case <-b.stopCh:
			return ErrBusClosed
		default:
		}
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	return nil
}

// Broadcast emits an envelope to every listener.
func (b *Bus) Broadcast(msgType string, data map[string]any) error {
	return b.Send(msgType, data, "")
}

// Receive waits for the next envelope that no handler consumed. A zero
// timeout blocks until the bus stops.
func (b *Bus) Receive(timeout time.Duration) (*Envelope, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case env := <-b.inbox:
		return env, nil
	case <-timer:
		return nil, ErrReceiveTimeout
	case <-b.stopCh:
		return nil, ErrBusClosed
	}
}

func (b *Bus) pump() {
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := b.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-b.stopCh:
				return
			default:
			}
			b.log.Debug().Err(err).Msg("read failed")
			continue
		}

		var env Envelope
		if err := msgpack.Unmarshal(buf[:n], &env); err != nil || env.Type == "" {
			// Unrecognised envelope; protocol error, drop it.
			b.log.Debug().Err(err).Msg("dropping malformed envelope")
			continue
		}
		if env.SenderID == b.cfg.SelfID {
			continue // our own broadcast looped back
		}
		if env.TargetID != "" && env.TargetID != b.cfg.SelfID {
			continue
		}

		b.mu.RLock()
		handlers := b.handlers[env.Type]
		b.mu.RUnlock()

		if len(handlers) > 0 {
			for _, h := range handlers {
				h(&env)
			}
			continue
		}
		select {
		case b.inbox <- &env:
		default:
			b.log.Debug().Str("type", env.Type).Msg("inbox full, dropping envelope")
		}
	}
}
