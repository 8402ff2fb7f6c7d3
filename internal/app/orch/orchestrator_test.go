package orch

import (
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Classroom/internal/app"
	"github.com/dkeye/Classroom/internal/app/sfu"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/protocol"
)

func TestJoinAnnouncesAndReturnsState(t *testing.T) {
	e := newEnv(t)
	alice, _ := e.join("alice", "Alice")
	_, res := e.join("bob", "Bob")

	assert.Equal(t, domain.ParticipantID("bob"), res.Self.ID)
	assert.Equal(t, "Bob", res.Self.Name)
	require.Len(t, res.Members, 2)
	assert.Equal(t, domain.ParticipantID("alice"), res.Members[0].ID)

	state := res.RoomState()
	assert.Equal(t, protocol.TypeRoomState, state.Type)
	assert.Equal(t, e.room, state.Room)
	assert.Equal(t, domain.RoomName("Physics"), state.RoomName)

	joined := alice.ofType(t, protocol.TypeMemberJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "Bob", joined[0].User.Name)
}

func TestJoinErrors(t *testing.T) {
	e := newEnv(t)
	_, err := e.o.Join("ghost", e.room, "Ghost", domain.RoleGuest)
	assert.ErrorIs(t, err, app.ErrNoSession)

	e.connect("alice")
	_, err = e.o.Join("alice", "missing", "Alice", domain.RoleGuest)
	assert.ErrorIs(t, err, app.ErrRoomNotFound)

	_, err = e.o.Join("alice", e.room, strings.Repeat("x", domain.MaxUsernameLen+1), domain.RoleGuest)
	assert.Error(t, err)
	_, _, in := e.o.Registry.RoomOf("alice")
	assert.False(t, in)
}

func TestRejoinSameRoomIsQuiet(t *testing.T) {
	e := newEnv(t)
	alice, _ := e.join("alice", "Alice")
	e.join("bob", "Bob")

	_, err := e.o.Join("bob", e.room, "", "")
	require.NoError(t, err)
	assert.Len(t, alice.ofType(t, protocol.TypeMemberJoined), 1)
}

func TestJoinAnotherRoomLeavesFirst(t *testing.T) {
	e := newEnv(t)
	alice, _ := e.join("alice", "Alice")
	e.join("bob", "Bob")
	other := e.o.Rooms.CreateRoom("Chemistry").Room().ID

	_, err := e.o.Join("bob", other, "", "")
	require.NoError(t, err)

	left := alice.ofType(t, protocol.TypeMemberLeft)
	require.Len(t, left, 1)
	assert.Equal(t, domain.ParticipantID("bob"), left[0].From)

	members, _, err := e.o.Roster(e.room)
	require.NoError(t, err)
	assert.Len(t, members, 1)
	roomID, _, _ := e.o.Registry.RoomOf("bob")
	assert.Equal(t, other, roomID)
}

func TestDisconnectIgnoresReplacedSession(t *testing.T) {
	e := newEnv(t)
	alice, _ := e.join("alice", "Alice")
	e.join("bob", "Bob")
	stale := core.NewMemberSession(domain.NewMember(domain.NewUser("bob")))

	e.o.Disconnect("bob", stale)
	assert.Empty(t, alice.ofType(t, protocol.TypeMemberLeft))

	sess, _ := e.o.Registry.GetSession("bob")
	e.o.Disconnect("bob", sess)
	assert.Len(t, alice.ofType(t, protocol.TypeMemberLeft), 1)
	_, ok := e.o.Registry.GetSession("bob")
	assert.False(t, ok)
}

func TestRenameAnnounced(t *testing.T) {
	e := newEnv(t)
	alice, _ := e.join("alice", "Alice")
	e.join("bob", "Bob")

	u, err := e.o.Rename("bob", "Robert")
	require.NoError(t, err)
	assert.Equal(t, "Robert", u.Username)

	updated := alice.ofType(t, protocol.TypeMemberUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, "Robert", updated[0].User.Name)

	_, err = e.o.Rename("bob", "  ")
	assert.Error(t, err)
}

func TestEvictRoom(t *testing.T) {
	e := newEnv(t)
	alice, _ := e.join("alice", "Alice")
	bob, _ := e.join("bob", "Bob")

	assert.True(t, e.o.EvictRoom(e.room))
	assert.Len(t, alice.ofType(t, protocol.TypeLeft), 1)
	assert.Len(t, bob.ofType(t, protocol.TypeLeft), 1)
	_, ok := e.o.Rooms.GetRoom(e.room)
	assert.False(t, ok)
	_, _, in := e.o.Registry.RoomOf("alice")
	assert.False(t, in)

	assert.False(t, e.o.EvictRoom(e.room))
}

func TestSlowMemberIsKicked(t *testing.T) {
	e := newEnv(t)
	e.o.Policy = &app.StrikePolicy{}
	e.join("alice", "Alice")
	bob, _ := e.join("bob", "Bob")
	bob.mu.Lock()
	bob.full = true
	bob.mu.Unlock()

	require.NoError(t, e.control("alice", protocol.Chat("m1", "hello")))

	_, _, in := e.o.Registry.RoomOf("bob")
	assert.False(t, in)
	assert.True(t, bob.isClosed())
	members, _, _ := e.o.Roster(e.room)
	assert.Len(t, members, 1)
}

func TestTrackFansOutToRoomMates(t *testing.T) {
	e := newEnv(t)
	e.join("alice", "Alice")
	e.join("bob", "Bob")
	e.join("carol", "Carol")
	e.attachMedia("alice")
	bobMedia := e.attachMedia("bob")

	relay := e.publish("alice", newFakeSource("audio", webrtc.RTPCodecTypeAudio))

	assert.Equal(t, 1, bobMedia.addedCount())
	assert.Equal(t, 1, bobMedia.offerCount())
	assert.Equal(t, "audio", bobMedia.added[0].ID())
	assert.Equal(t, "alice", bobMedia.added[0].StreamID())
	assert.Equal(t, 1, relay.Subscribers())

	// carol negotiates later and picks up the existing track.
	carolMedia := e.attachMedia("carol")
	e.o.OnMediaReady("carol")
	assert.Equal(t, 1, carolMedia.addedCount())
	assert.Equal(t, 1, carolMedia.offerCount())
	assert.Equal(t, 2, relay.Subscribers())

	// Already subscribed members are not offered again.
	e.o.OnMediaReady("carol")
	assert.Equal(t, 1, carolMedia.offerCount())
}

func TestRenegotiationWaitsForPendingOffer(t *testing.T) {
	e := newEnv(t)
	bob, _ := e.join("bob", "Bob")
	mc := e.attachMedia("bob")
	mc.pending = true

	e.o.Renegotiate("bob")
	assert.Empty(t, bob.ofType(t, protocol.TypeOffer))

	mc.pending = false
	mc.onRenegotiate()
	offers := bob.ofType(t, protocol.TypeOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, "offer", offers[0].SDP)
}

func TestKickTearsDownMedia(t *testing.T) {
	e := newEnv(t)
	e.join("alice", "Alice")
	bob, _ := e.join("bob", "Bob")
	aliceMedia := e.attachMedia("alice")
	e.attachMedia("bob")
	relay := e.publish("alice", newFakeSource("video", webrtc.RTPCodecTypeVideo))
	bobOut, ok := relay.OutTrack("bob")
	require.True(t, ok)

	e.o.KickBySID("alice")

	assert.True(t, aliceMedia.IsClosed())
	assert.False(t, e.o.Relays.HasRelay("alice"))
	assert.Equal(t, sfu.TrackStateDelete, bobOut.GetState())
	sess, _ := e.o.Registry.GetSession("alice")
	assert.Nil(t, sess.Media())
	assert.Len(t, bob.ofType(t, protocol.TypeMemberLeft), 1)
}

func TestMediaClosedByPeerCleansUp(t *testing.T) {
	e := newEnv(t)
	e.join("alice", "Alice")
	mc := e.attachMedia("alice")
	e.publish("alice", newFakeSource("audio", webrtc.RTPCodecTypeAudio))

	mc.Close()

	assert.False(t, e.o.Relays.HasRelay("alice"))
	sess, _ := e.o.Registry.GetSession("alice")
	assert.Nil(t, sess.Media())
	// Membership survives a media failure.
	_, _, in := e.o.Registry.RoomOf("alice")
	assert.True(t, in)
}
