package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Classroom/internal/protocol"
)

var ErrTransportClosed = errors.New("signaling transport closed")

// SignalTransport is the ordered bidirectional signaling channel to the
// server. Messages is closed when the transport goes away.
type SignalTransport interface {
	Send(protocol.Message) error
	Messages() <-chan []byte
	Close() error
}

// Dialer opens a signaling transport.
type Dialer func(ctx context.Context) (SignalTransport, error)

type wsTransport struct {
	conn *websocket.Conn
	send chan []byte
	recv chan []byte

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// WebsocketDialer dials url with gorilla/websocket.
func WebsocketDialer(url string, header http.Header) Dialer {
	return func(ctx context.Context) (SignalTransport, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
		if err != nil {
			return nil, err
		}
		t := &wsTransport{
			conn: conn,
			send: make(chan []byte, 64),
			recv: make(chan []byte, 64),
		}
		go t.writePump()
		go t.readPump()
		log.Info().Str("module", "signal.client").Str("url", url).Msg("signaling connected")
		return t, nil
	}
}

func (t *wsTransport) Send(m protocol.Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrTransportClosed
	}
	select {
	case t.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (t *wsTransport) Messages() <-chan []byte { return t.recv }

func (t *wsTransport) Close() error {
	var err error
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.send)
		t.mu.Unlock()
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) writePump() {
	for data := range t.send {
		if err := t.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			log.Error().Err(err).Str("module", "signal.client").Msg("writePump set deadline")
			return
		}
		if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "signal.client").Msg("writePump write error")
			return
		}
	}
}

func (t *wsTransport) readPump() {
	defer close(t.recv)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.mu.RLock()
			closed := t.closed
			t.mu.RUnlock()
			if !closed {
				log.Warn().Err(err).Str("module", "signal.client").Msg("readPump read error")
			}
			return
		}
		t.recv <- data
	}
}
