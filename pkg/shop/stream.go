package shop

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/voxelforge/fabric/pkg/types"
)

const (
	dialTimeout       = 30 * time.Second
	baseReconnectWait = 5 * time.Second
	maxReconnectWait  = 5 * time.Minute
)

// TxHandler consumes one transaction from the stream.
type TxHandler func(ctx context.Context, tx *types.Transaction)

// Stream is the websocket client for the external transaction source.
// It reads JSON transaction records and hands them to the handler; a
// dropped connection is redialled with exponential backoff until Stop.
type Stream struct {
	url     string
	handler TxHandler
	log     zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	done    chan struct{}
}

// NewStream creates a stopped stream client.
func NewStream(url string, handler TxHandler, logger zerolog.Logger) *Stream {
	return &Stream{
		url:     url,
		handler: handler,
		log:     logger.With().Str("component", "txstream").Logger(),
		done:    make(chan struct{}),
	}
}

// Start launches the connect/read loop in the background.
func (s *Stream) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	go s.run(ctx)
}

// Stop tears the connection down and waits for the loop to exit.
func (s *Stream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-s.done
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)
	wait := baseReconnectWait
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn().Err(err).Dur("retryIn", wait).Msg("transaction stream disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait *= 2
		if wait > maxReconnectWait {
			wait = maxReconnectWait
		}
	}
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")
	conn.SetReadLimit(1 << 20)
	s.log.Info().Str("url", s.url).Msg("transaction stream connected")

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var tx types.Transaction
		if err := json.Unmarshal(raw, &tx); err != nil {
			s.log.Debug().Err(err).Msg("ignoring unparseable stream message")
			continue
		}
		if tx.ID == "" {
			continue
		}
		if tx.SeenAt.IsZero() {
			tx.SeenAt = time.Now()
		}
		s.handler(ctx, &tx)
	}
}
