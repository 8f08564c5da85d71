package venue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message.
	pongWait = 30 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// quoteBuffer is how many undelivered quotes a stream holds before it
	// starts replacing the oldest.
	quoteBuffer = 64
)

// parseFunc decodes one text frame. ok is false for frames that carry no
// quote (acks, heartbeats, other channels).
type parseFunc func(raw []byte) (q domain.Quote, ok bool, err error)

// wsStream is a domain.PriceStream over a single gorilla/websocket
// connection. It never reconnects; the aggregator does that.
type wsStream struct {
	conn   *websocket.Conn
	parse  parseFunc
	logger *slog.Logger

	quotes chan domain.Quote
	done   chan struct{}

	writeMu sync.Mutex

	mu     sync.Mutex
	err    error
	closed bool
}

var _ domain.PriceStream = (*wsStream)(nil)

// dialStream connects to url, sends subscribe (if any) and starts the read
// and ping loops. The stream closes when ctx is cancelled.
func dialStream(ctx context.Context, url string, subscribe []byte, parse parseFunc, logger *slog.Logger) (*wsStream, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: connect: %w: %v", domain.ErrTransient, err)
	}

	s := &wsStream{
		conn:   conn,
		parse:  parse,
		logger: logger,
		quotes: make(chan domain.Quote, quoteBuffer),
		done:   make(chan struct{}),
	}

	if subscribe != nil {
		if err := s.write(websocket.TextMessage, subscribe); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ws: subscribe: %w: %v", domain.ErrTransient, err)
		}
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go s.readLoop()
	go s.pingLoop()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	return s, nil
}

func (s *wsStream) Quotes() <-chan domain.Quote { return s.quotes }

// Err reports why the stream ended. It is nil while the stream is live.
func (s *wsStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close shuts the connection down. The read loop then closes Quotes.
func (s *wsStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}

func (s *wsStream) readLoop() {
	defer func() {
		close(s.quotes)
		close(s.done)
	}()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}
		q, ok, err := s.parse(raw)
		if err != nil {
			s.logger.Debug("ws: skip malformed frame", slog.String("error", err.Error()))
			continue
		}
		if ok {
			s.deliver(q)
		}
	}
}

// deliver never blocks the read loop. When the consumer falls behind the
// oldest buffered quote is discarded.
func (s *wsStream) deliver(q domain.Quote) {
	for {
		select {
		case s.quotes <- q:
			return
		default:
		}
		select {
		case <-s.quotes:
		default:
		}
	}
}

func (s *wsStream) finish(readErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		s.err = domain.ErrStreamClosed
	case websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		s.err = fmt.Errorf("ws: %w: peer closed", domain.ErrStreamClosed)
	default:
		s.err = fmt.Errorf("ws: read: %w", errors.Join(domain.ErrStreamClosed, readErr))
	}
	s.conn.Close()
}

func (s *wsStream) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("ws: ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (s *wsStream) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}
