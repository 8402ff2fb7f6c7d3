package signal

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/metrics"
	"github.com/dkeye/Classroom/internal/protocol"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	var ping <-chan time.Time
	if ctl.pingPeriod > 0 {
		ticker := time.NewTicker(ctl.pingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Info().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		c.Close()
	}()

	if ctl.readLimit > 0 {
		c.conn.SetReadLimit(ctl.readLimit)
	}
	if ctl.pingPeriod > 0 {
		pongWait := ctl.pingPeriod * 10 / 9
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			ctl.handleSignal(ctx, sid, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	m, err := protocol.Decode(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			log.Warn().Str("module", "signal").Str("type", string(m.Type)).Msg("unknown signal")
			return
		}
		log.Error().Err(err).Str("module", "signal").Msg("bad payload")
		ctl.send(c, protocol.Errorf("bad_payload"))
		return
	}
	metrics.SignalMessage(string(m.Type))

	switch m.Type {
	case protocol.TypeJoin:
		ctl.handleJoin(sid, c, m)
	case protocol.TypeLeave:
		ctl.handleLeave(sid, c)
	case protocol.TypePing:
		ctl.handlePing(c)
	case protocol.TypeRename:
		ctl.handleRename(sid, c, m)
	case protocol.TypeWhoAmI:
		ctl.handleWhoAmI(sid, c)
	case protocol.TypeOffer:
		ctl.handleOffer(ctx, sid, c, m)
	case protocol.TypeAnswer:
		ctl.handleAnswer(sid, c, m)
	case protocol.TypeCandidate:
		ctl.handleCandidate(sid, m)
	default:
		if m.Type.IsControl() {
			ctl.handleControl(sid, c, m)
			return
		}
		log.Warn().Str("module", "signal").Str("type", string(m.Type)).Msg("unexpected signal")
	}
}

func (ctl *SignalWSController) send(c *WsSignalConn, m protocol.Message) {
	b, err := m.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("send marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		metrics.FrameDropped()
		log.Warn().Err(err).Str("module", "signal").Str("type", string(m.Type)).Msg("send dropped")
	}
}
