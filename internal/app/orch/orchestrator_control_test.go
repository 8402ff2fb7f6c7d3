package orch

import (
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Classroom/internal/app"
	"github.com/dkeye/Classroom/internal/app/sfu"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/protocol"
)

func TestChatEchoedWithReceiptOrder(t *testing.T) {
	e := newEnv(t)
	alice, _ := e.join("alice", "Alice")
	bob, _ := e.join("bob", "Bob")

	require.NoError(t, e.control("alice", protocol.Chat("c1", "  hello  ")))
	require.NoError(t, e.control("bob", protocol.Chat("", "hi")))

	for _, sig := range []*fakeSignal{alice, bob} {
		msgs := sig.ofType(t, protocol.TypeChat)
		require.Len(t, msgs, 2)
		require.NotNil(t, msgs[0].Chat)
		assert.Equal(t, "c1", msgs[0].Chat.ID)
		assert.Equal(t, "hello", msgs[0].Chat.Text)
		assert.Equal(t, "Alice", msgs[0].Chat.SenderName)
		assert.Equal(t, uint64(1), msgs[0].Chat.Seq)
		assert.WithinDuration(t, e.now, msgs[0].Chat.SentAt, 0)
		assert.Equal(t, uint64(2), msgs[1].Chat.Seq)
		assert.NotEmpty(t, msgs[1].ID)
	}

	history, err := e.o.ChatHistory(e.room, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestChatValidation(t *testing.T) {
	e := newEnv(t)
	e.join("alice", "Alice")
	e.connect("lurker")

	assert.ErrorIs(t, e.control("alice", protocol.Chat("x", "   ")), app.ErrEmptyChat)
	assert.ErrorIs(t, e.control("alice", protocol.Chat("x", strings.Repeat("a", domain.MaxChatTextLen+1))), app.ErrChatTooLong)
	assert.ErrorIs(t, e.control("lurker", protocol.Chat("x", "hi")), app.ErrNotInRoom)
}

func TestChatRateLimited(t *testing.T) {
	e := newEnv(t)
	e.join("alice", "Alice")
	for range 3 {
		require.NoError(t, e.control("alice", protocol.Chat("", "spam")))
	}
	assert.ErrorIs(t, e.control("alice", protocol.Chat("", "spam")), app.ErrRateLimited)

	e.now = e.now.Add(2 * time.Minute)
	assert.NoError(t, e.control("alice", protocol.Chat("", "later")))
}

func TestControlPrefersDataChannel(t *testing.T) {
	e := newEnv(t)
	e.join("alice", "Alice")
	bob, _ := e.join("bob", "Bob")
	mc := e.attachMedia("bob")
	mc.controlOpen = true

	require.NoError(t, e.control("alice", protocol.Mute(true)))

	assert.Empty(t, bob.ofType(t, protocol.TypeMuteChanged))
	got := mc.controlOf(t, protocol.TypeMuteChanged)
	require.Len(t, got, 1)
	assert.Equal(t, domain.ParticipantID("alice"), got[0].From)
	assert.True(t, got[0].Flag())
}

func TestHandRaiseStampedByServer(t *testing.T) {
	e := newEnv(t)
	alice, _ := e.join("alice", "Alice")
	e.join("bob", "Bob")
	e.join("carol", "Carol")

	require.NoError(t, e.control("carol", protocol.Hand(true)))
	e.now = e.now.Add(time.Second)
	require.NoError(t, e.control("bob", protocol.Hand(true)))
	// A repeated raise keeps the original position and is not re-announced.
	e.now = e.now.Add(time.Second)
	require.NoError(t, e.control("carol", protocol.Hand(true)))

	hands := alice.ofType(t, protocol.TypeHandRaised)
	require.Len(t, hands, 2)
	assert.Equal(t, domain.ParticipantID("carol"), hands[0].From)
	assert.Equal(t, e.now.Add(-2*time.Second).UnixMilli(), hands[0].At)

	_, queue, err := e.o.Roster(e.room)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, domain.ParticipantID("carol"), queue[0].ID)
	assert.Equal(t, domain.ParticipantID("bob"), queue[1].ID)

	require.NoError(t, e.control("carol", protocol.Hand(false)))
	hands = alice.ofType(t, protocol.TypeHandRaised)
	require.Len(t, hands, 3)
	assert.False(t, hands[2].Flag())
	assert.Zero(t, hands[2].At)

	_, queue, _ = e.o.Roster(e.room)
	require.Len(t, queue, 1)
	assert.Equal(t, domain.ParticipantID("bob"), queue[0].ID)
}

func TestMuteStopsForwarding(t *testing.T) {
	e := newEnv(t)
	e.join("alice", "Alice")
	bob, _ := e.join("bob", "Bob")
	e.attachMedia("alice")
	e.attachMedia("bob")
	audio := e.publish("alice", newFakeSource("audio", webrtc.RTPCodecTypeAudio))
	video := e.publish("alice", newFakeSource("video", webrtc.RTPCodecTypeVideo))

	out := func(r *sfu.Relay) sfu.TrackState {
		ot, ok := r.OutTrack("bob")
		require.True(t, ok)
		return ot.GetState()
	}

	require.NoError(t, e.control("alice", protocol.Mute(true)))
	assert.Equal(t, sfu.TrackStateMuted, out(audio))
	assert.Equal(t, sfu.TrackStateOk, out(video))

	require.NoError(t, e.control("alice", protocol.Video(false)))
	assert.Equal(t, sfu.TrackStateMuted, out(video))

	// Unchanged state is not re-announced.
	require.NoError(t, e.control("alice", protocol.Mute(true)))
	assert.Len(t, bob.ofType(t, protocol.TypeMuteChanged), 1)

	require.NoError(t, e.control("alice", protocol.Mute(false)))
	assert.Equal(t, sfu.TrackStateOk, out(audio))

	members, _, _ := e.o.Roster(e.room)
	assert.False(t, members[0].Muted)
	assert.False(t, members[0].VideoOn)
}

func TestTrackPublishedWhileMutedStartsMuted(t *testing.T) {
	e := newEnv(t)
	e.join("alice", "Alice")
	e.join("bob", "Bob")
	e.attachMedia("alice")
	e.attachMedia("bob")
	require.NoError(t, e.control("alice", protocol.Mute(true)))

	audio := e.publish("alice", newFakeSource("audio", webrtc.RTPCodecTypeAudio))
	ot, ok := audio.OutTrack("bob")
	require.True(t, ok)
	assert.Equal(t, sfu.TrackStateMuted, ot.GetState())
}

func TestScreenShareAnnounced(t *testing.T) {
	e := newEnv(t)
	alice, _ := e.join("alice", "Alice")
	e.join("bob", "Bob")

	require.NoError(t, e.control("bob", protocol.ScreenShare(true)))
	shares := alice.ofType(t, protocol.TypeScreenShare)
	require.Len(t, shares, 1)
	assert.True(t, shares[0].Flag())

	members, _, _ := e.o.Roster(e.room)
	assert.True(t, members[1].Sharing)
}

func TestControlFrameHandling(t *testing.T) {
	e := newEnv(t)
	alice, _ := e.join("alice", "Alice")
	bob, _ := e.join("bob", "Bob")

	e.o.OnControlFrame("alice", core.Frame(`{not json`))
	e.o.OnControlFrame("alice", core.Frame(`{"type":"join","room":"x"}`))
	e.o.OnControlFrame("alice", core.Frame(`{"type":"teleport"}`))
	assert.Empty(t, alice.ofType(t, protocol.TypeError))

	e.o.OnControlFrame("alice", core.Frame(`{"type":"chat","text":"   "}`))
	errs := alice.ofType(t, protocol.TypeError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error, "empty chat")

	e.o.OnControlFrame("alice", core.Frame(`{"type":"chat","id":"m1","text":"over the channel"}`))
	msgs := bob.ofType(t, protocol.TypeChat)
	require.Len(t, msgs, 1)
	assert.Equal(t, "over the channel", msgs[0].Text)
}
