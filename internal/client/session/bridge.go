package session

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Classroom/internal/protocol"
)

// DataChannel is the subset of *webrtc.DataChannel the bridge needs.
type DataChannel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	SendText(string) error
	OnOpen(func())
	OnClose(func())
	OnMessage(func(webrtc.DataChannelMessage))
	Close() error
}

var _ DataChannel = (*webrtc.DataChannel)(nil)

// Bridge carries control events. Outgoing events use the reliable ordered
// data channel; incoming ones may arrive on it or be fed in by the
// signaling reader through Dispatch.
type Bridge struct {
	mu      sync.RWMutex
	ch      DataChannel
	handler func(protocol.Message)
}

func NewBridge() *Bridge { return &Bridge{} }

func (b *Bridge) attach(ch DataChannel) {
	b.mu.Lock()
	b.ch = ch
	b.mu.Unlock()
	ch.OnMessage(func(msg webrtc.DataChannelMessage) {
		b.Dispatch(msg.Data)
	})
}

func (b *Bridge) detach() DataChannel {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := b.ch
	b.ch = nil
	return ch
}

// Ready reports whether Send can currently succeed.
func (b *Bridge) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ch != nil && b.ch.ReadyState() == webrtc.DataChannelStateOpen
}

// Send never drops silently: a closed or not yet open channel yields
// ErrChannelNotReady.
func (b *Bridge) Send(m protocol.Message) error {
	b.mu.RLock()
	ch := b.ch
	b.mu.RUnlock()
	if ch == nil || ch.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotReady
	}
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return ch.SendText(string(data))
}

// OnMessage registers the single inbound handler.
func (b *Bridge) OnMessage(h func(protocol.Message)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handler != nil {
		return ErrHandlerRegistered
	}
	b.handler = h
	return nil
}

// Dispatch decodes data and hands it to the handler. Malformed and
// unknown events are logged and dropped.
func (b *Bridge) Dispatch(data []byte) {
	m, err := protocol.Decode(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			log.Warn().Str("module", "bridge").Str("type", string(m.Type)).Msg("unknown event")
		} else {
			log.Warn().Err(err).Str("module", "bridge").Msg("malformed event")
		}
		return
	}
	b.DispatchMessage(m)
}

func (b *Bridge) DispatchMessage(m protocol.Message) {
	b.mu.RLock()
	h := b.handler
	b.mu.RUnlock()
	if h == nil {
		log.Debug().Str("module", "bridge").Str("type", string(m.Type)).Msg("no handler, event dropped")
		return
	}
	h(m)
}
