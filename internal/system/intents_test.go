package system

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxsync/server/internal/data"
	"github.com/voxsync/server/internal/net"
	"github.com/voxsync/server/internal/protocol"
	"github.com/voxsync/server/internal/world"
	"go.uber.org/zap"
)

type fakeTransport struct {
	sessions chan *net.Session
	intents  chan net.Inbound
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sessions: make(chan *net.Session, 8),
		intents:  make(chan net.Inbound, 64),
	}
}

func (f *fakeTransport) NewSessions() <-chan *net.Session { return f.sessions }
func (f *fakeTransport) Intents() <-chan net.Inbound      { return f.intents }

func testVoxelTable(t *testing.T) *data.VoxelTable {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxel_list.yaml")
	src := "voxels:\n  - id: 1\n    name: stone\n    solid: true\n  - id: 2\n    name: dirt\n    solid: true\n"
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	tbl, err := data.LoadVoxelTable(path)
	require.NoError(t, err)
	return tbl
}

type intentRig struct {
	transport *fakeTransport
	store     *net.SessionStore
	ws        *world.State
	sys       *IntentSystem
}

func newIntentRig(t *testing.T) *intentRig {
	t.Helper()
	transport := newFakeTransport()
	store := net.NewSessionStore()
	ws := world.NewState(8)
	spawn := world.Pose{Chunk: world.ChunkPos{Y: 4}, Offset: [3]int16{800, 800, 800}}
	sys := NewIntentSystem(transport, store, ws, testVoxelTable(t), 30, 8, spawn, zap.NewNop())
	return &intentRig{transport: transport, store: store, ws: ws, sys: sys}
}

func (r *intentRig) connect(t *testing.T) *net.Session {
	t.Helper()
	sess := net.NewSession(nil, uint64(r.store.Len()+1), 16, 16, 0, time.Second, zap.NewNop())
	r.transport.sessions <- sess
	r.sys.Update(0)
	require.NotNil(t, r.store.Get(sess.ID))
	return sess
}

// connectActive runs the full handshake so the session holds an entity.
func (r *intentRig) connectActive(t *testing.T) *net.Session {
	t.Helper()
	sess := r.connect(t)
	r.transport.intents <- net.Inbound{Session: sess, Msg: protocol.Hello{Version: protocol.Version}}
	r.sys.Update(0)
	require.Equal(t, net.StateActive, sess.State())
	return sess
}

func TestHelloSpawnsEntityAndQueuesWelcome(t *testing.T) {
	r := newIntentRig(t)
	sess := r.connect(t)

	r.transport.intents <- net.Inbound{Session: sess, Msg: protocol.Hello{Version: protocol.Version}}
	r.sys.Update(0)

	assert.Equal(t, net.StateActive, sess.State())
	require.NotZero(t, sess.EntityID)
	require.NotNil(t, r.ws.Entity(sess.EntityID))

	require.Len(t, sess.Pending, 1)
	welcome, ok := sess.Pending[0].(protocol.Welcome)
	require.True(t, ok)
	assert.Equal(t, sess.EntityID, welcome.EntityID)
	assert.Equal(t, uint8(30), welcome.TickRate)
	assert.Equal(t, uint8(8), welcome.MaxRadius)
}

func TestHelloVersionMismatchDisconnects(t *testing.T) {
	r := newIntentRig(t)
	sess := r.connect(t)

	r.transport.intents <- net.Inbound{Session: sess, Msg: protocol.Hello{Version: 99}}
	r.sys.Update(0)

	assert.True(t, sess.IsClosed())
	assert.Equal(t, 0, r.ws.EntityCount())
}

func TestSubmessageBeforeHelloDisconnects(t *testing.T) {
	r := newIntentRig(t)
	sess := r.connect(t)

	r.transport.intents <- net.Inbound{Session: sess, Msg: protocol.ClientPose{}}
	r.sys.Update(0)

	assert.True(t, sess.IsClosed())
}

func TestSetInterestWithinLimit(t *testing.T) {
	r := newIntentRig(t)
	sess := r.connectActive(t)

	r.transport.intents <- net.Inbound{Session: sess, Msg: protocol.SetInterest{Cx: 1, Cy: 2, Cz: 3, Radius: 8}}
	r.sys.Update(0)

	assert.False(t, sess.IsClosed())
	assert.True(t, sess.HasInterest)
	assert.Equal(t, world.ChunkPos{X: 1, Y: 2, Z: 3}, sess.AOICenter)
	assert.Equal(t, uint8(8), sess.AOIRadius)
}

func TestSetInterestBeyondLimitDisconnects(t *testing.T) {
	r := newIntentRig(t)
	sess := r.connectActive(t)

	r.transport.intents <- net.Inbound{Session: sess, Msg: protocol.SetInterest{Radius: 9}}
	r.sys.Update(0)

	// Rejected outright, never clamped.
	assert.True(t, sess.IsClosed())
	assert.False(t, sess.HasInterest)
}

func TestClientPoseUpdatesEntity(t *testing.T) {
	r := newIntentRig(t)
	sess := r.connectActive(t)

	r.transport.intents <- net.Inbound{Session: sess, Msg: protocol.ClientPose{
		Cx: 2, Cy: 4, Cz: -1,
		Ox: 100, Oy: 0, Oz: 1599,
		Yaw: 5000, Pitch: -100,
		Vx: 10, State: 3,
	}}
	r.sys.Update(0)

	e := r.ws.Entity(sess.EntityID)
	require.NotNil(t, e)
	assert.Equal(t, world.ChunkPos{X: 2, Y: 4, Z: -1}, e.Chunk)
	assert.Equal(t, [3]int16{100, 0, 1599}, e.Offset)
	assert.Equal(t, uint16(5000), e.Yaw)
	assert.Equal(t, uint16(3), e.State)
}

func TestClientPoseAppliedInArrivalOrder(t *testing.T) {
	r := newIntentRig(t)
	sess := r.connectActive(t)

	r.transport.intents <- net.Inbound{Session: sess, Msg: protocol.ClientPose{Yaw: 100}}
	r.transport.intents <- net.Inbound{Session: sess, Msg: protocol.ClientPose{Yaw: 200}}
	r.sys.Update(0)

	e := r.ws.Entity(sess.EntityID)
	require.NotNil(t, e)
	assert.Equal(t, uint16(200), e.Yaw, "later intent in the same tick wins")
}

func TestClientPoseOffsetOutOfRangeDisconnects(t *testing.T) {
	r := newIntentRig(t)

	for _, bad := range []int16{-1, 1600, 30000} {
		sess := r.connectActive(t)
		r.transport.intents <- net.Inbound{Session: sess, Msg: protocol.ClientPose{Ox: bad}}
		r.sys.Update(0)
		assert.True(t, sess.IsClosed(), "offset %d must disconnect", bad)
		r.sys.Update(0) // let the teardown pass reap it
	}
}

func TestClientEditStagesKnownVoxel(t *testing.T) {
	r := newIntentRig(t)
	sess := r.connectActive(t)

	pos := world.ChunkPos{X: 1, Y: 0, Z: 1}
	r.transport.intents <- net.Inbound{Session: sess, Msg: protocol.ClientEdit{
		Cx: pos.X, Cy: pos.Y, Cz: pos.Z,
		Edit: protocol.VoxelEdit{Index: 7, Voxel: 2},
	}}
	r.sys.Update(0)

	c := r.ws.Chunk(pos)
	require.NotNil(t, c)
	assert.True(t, c.Dirty())
	assert.Equal(t, uint16(2), c.Voxel(7))
}

func TestClientEditUnknownVoxelDiscarded(t *testing.T) {
	r := newIntentRig(t)
	sess := r.connectActive(t)

	r.transport.intents <- net.Inbound{Session: sess, Msg: protocol.ClientEdit{
		Edit: protocol.VoxelEdit{Index: 7, Voxel: 999},
	}}
	r.sys.Update(0)

	assert.False(t, sess.IsClosed(), "bad voxel id is discarded, not fatal")
	assert.Nil(t, r.ws.Chunk(world.ChunkPos{}))
}

func TestChunkRequestForcesResend(t *testing.T) {
	r := newIntentRig(t)
	sess := r.connectActive(t)

	pos := world.ChunkPos{X: 3}
	sess.SentChunks[pos] = 5

	r.transport.intents <- net.Inbound{Session: sess, Msg: protocol.ChunkRequest{Cx: 3}}
	r.sys.Update(0)

	_, ok := sess.SentChunks[pos]
	assert.False(t, ok)
}

func TestChunkAckRecordsConfirmedVersion(t *testing.T) {
	r := newIntentRig(t)
	sess := r.connectActive(t)

	pos := world.ChunkPos{X: 1}
	r.ws.ApplyEdit(pos, protocol.VoxelEdit{Index: 0, Voxel: 1})
	r.ws.CommitEdits() // v1

	r.transport.intents <- net.Inbound{Session: sess, Msg: protocol.ChunkAck{Cx: 1, Version: 1}}
	r.sys.Update(0)
	assert.Equal(t, uint32(1), sess.AckedChunks[pos])

	// An ack ahead of the authoritative version is discarded.
	r.transport.intents <- net.Inbound{Session: sess, Msg: protocol.ChunkAck{Cx: 1, Version: 9}}
	r.sys.Update(0)
	assert.Equal(t, uint32(1), sess.AckedChunks[pos])
}

func TestClosedSessionIsReaped(t *testing.T) {
	r := newIntentRig(t)
	sess := r.connectActive(t)
	id := sess.EntityID

	sess.Close()
	r.sys.Update(0)

	assert.Nil(t, r.ws.Entity(id))
	assert.Equal(t, 0, r.store.Len())
}
