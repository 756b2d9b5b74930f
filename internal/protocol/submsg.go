package protocol

import (
	"errors"
	"fmt"
	"math/bits"
)

// Version is the wire protocol version carried in HELLO.
const Version uint16 = 1

// Chunk geometry as fixed by the wire format: 16×16×16 cells, occupancy
// bitset of 4096 bits. Cell index = x + 16*y + 256*z.
const (
	ChunkCells     = 4096
	OccupancyBytes = ChunkCells / 8
)

// Submessage kind tags.
const (
	KindHello         byte = 0x01
	KindWelcome       byte = 0x02
	KindSetInterest   byte = 0x03
	KindJoin          byte = 0x04
	KindLeave         byte = 0x05
	KindEntities      byte = 0x06
	KindClientPose    byte = 0x07
	KindChunkSnapshot byte = 0x08
	KindChunkDelta    byte = 0x09
	KindChunkRequest  byte = 0x0A
	KindChunkAck      byte = 0x0B
	KindClientEdit    byte = 0x0C
)

// Entity update mask bits. SAME_CHUNK is only meaningful together with POS
// and means the 3×i32 chunk coordinate is omitted. A full-state update is
// POS|ORIENT|VEL|STATE with SAME_CHUNK clear.
const (
	MaskPos       byte = 1 << 0
	MaskSameChunk byte = 1 << 1
	MaskOrient    byte = 1 << 2
	MaskVel       byte = 1 << 3
	MaskState     byte = 1 << 4

	MaskFull = MaskPos | MaskOrient | MaskVel | MaskState

	maskReserved = ^byte(MaskPos | MaskSameChunk | MaskOrient | MaskVel | MaskState)
)

// Voxel flags byte. Bits 1 and 3–7 are reserved and must be zero.
const (
	VoxelFlagDestroyed byte = 1 << 0
	VoxelFlagRotated   byte = 1 << 2

	voxelFlagReserved = ^byte(VoxelFlagDestroyed | VoxelFlagRotated)
)

var (
	ErrTruncated = errors.New("protocol: truncated submessage")
	ErrBadKind   = errors.New("protocol: unknown submessage kind")
	ErrBadFrame  = errors.New("protocol: malformed frame")
	ErrRange     = errors.New("protocol: field out of range")
)

// Submessage is one typed, fixed-layout unit within a frame.
type Submessage interface {
	Kind() byte
	encode(w *Writer)
}

// Hello is the first client submessage on a new connection.
type Hello struct {
	Version uint16
}

func (Hello) Kind() byte { return KindHello }

func (m Hello) encode(w *Writer) {
	w.WriteH(m.Version)
}

// Welcome answers a valid Hello with the assigned entity id and the fixed
// server parameters the client needs before its first SET_INTEREST.
type Welcome struct {
	EntityID  uint32
	TickRate  uint8 // ticks per second
	MaxRadius uint8 // server-enforced AOI radius ceiling
}

func (Welcome) Kind() byte { return KindWelcome }

func (m Welcome) encode(w *Writer) {
	w.WriteDU(m.EntityID)
	w.WriteC(m.TickRate)
	w.WriteC(m.MaxRadius)
}

// SetInterest moves the connection's AOI. Takes effect on the next tick.
type SetInterest struct {
	Cx, Cy, Cz int32
	Radius     uint8
}

func (SetInterest) Kind() byte { return KindSetInterest }

func (m SetInterest) encode(w *Writer) {
	w.WriteD(m.Cx)
	w.WriteD(m.Cy)
	w.WriteD(m.Cz)
	w.WriteC(m.Radius)
}

// Join announces an entity entering the connection's visible set. It always
// precedes the entity's first full-state update.
type Join struct {
	EntityID uint32
}

func (Join) Kind() byte { return KindJoin }

func (m Join) encode(w *Writer) {
	w.WriteDU(m.EntityID)
}

// Leave announces an entity leaving the connection's visible set.
type Leave struct {
	EntityID uint32
}

func (Leave) Kind() byte { return KindLeave }

func (m Leave) encode(w *Writer) {
	w.WriteDU(m.EntityID)
}

// EntityUpdate is one entry of an ENTITIES_UPDATE submessage. Only the
// fields selected by Mask are present on the wire.
type EntityUpdate struct {
	ID   uint32
	Mask byte

	Cx, Cy, Cz int32 // chunk coordinate (POS without SAME_CHUNK)
	Ox, Oy, Oz int16 // sub-chunk offset, centimeters (POS)
	Yaw        uint16
	Pitch      int16
	Vx, Vy, Vz int16 // cm/s (VEL)
	State      uint16
}

// EntitiesUpdate carries the per-tick entity diffs for one connection.
type EntitiesUpdate struct {
	Entities []EntityUpdate
}

func (EntitiesUpdate) Kind() byte { return KindEntities }

func (m EntitiesUpdate) encode(w *Writer) {
	w.WriteC(byte(len(m.Entities)))
	for _, e := range m.Entities {
		w.WriteDU(e.ID)
		w.WriteC(e.Mask)
		if e.Mask&MaskPos != 0 {
			if e.Mask&MaskSameChunk == 0 {
				w.WriteD(e.Cx)
				w.WriteD(e.Cy)
				w.WriteD(e.Cz)
			}
			w.WriteHS(e.Ox)
			w.WriteHS(e.Oy)
			w.WriteHS(e.Oz)
		}
		if e.Mask&MaskOrient != 0 {
			w.WriteH(e.Yaw)
			w.WriteHS(e.Pitch)
		}
		if e.Mask&MaskVel != 0 {
			w.WriteHS(e.Vx)
			w.WriteHS(e.Vy)
			w.WriteHS(e.Vz)
		}
		if e.Mask&MaskState != 0 {
			w.WriteH(e.State)
		}
	}
}

// ClientPose is the client's authoritative-input report: always a full pose,
// no mask, fixed layout.
type ClientPose struct {
	Cx, Cy, Cz int32
	Ox, Oy, Oz int16
	Yaw        uint16
	Pitch      int16
	Vx, Vy, Vz int16
	State      uint16
}

func (ClientPose) Kind() byte { return KindClientPose }

func (m ClientPose) encode(w *Writer) {
	w.WriteD(m.Cx)
	w.WriteD(m.Cy)
	w.WriteD(m.Cz)
	w.WriteHS(m.Ox)
	w.WriteHS(m.Oy)
	w.WriteHS(m.Oz)
	w.WriteH(m.Yaw)
	w.WriteHS(m.Pitch)
	w.WriteHS(m.Vx)
	w.WriteHS(m.Vy)
	w.WriteHS(m.Vz)
	w.WriteH(m.State)
}

// ChunkSnapshot is a full encoding of a chunk's occupied cells: occupancy
// bitset followed by one voxel id per set bit in ascending cell order.
type ChunkSnapshot struct {
	Cx, Cy, Cz int32
	Version    uint32
	Occupancy  [OccupancyBytes]byte
	Voxels     []uint16
}

func (ChunkSnapshot) Kind() byte { return KindChunkSnapshot }

func (m ChunkSnapshot) encode(w *Writer) {
	w.WriteD(m.Cx)
	w.WriteD(m.Cy)
	w.WriteD(m.Cz)
	w.WriteDU(m.Version)
	w.WriteBytes(m.Occupancy[:])
	for _, v := range m.Voxels {
		w.WriteH(v)
	}
}

// OccupiedCount returns the number of set occupancy bits.
func (m *ChunkSnapshot) OccupiedCount() int {
	n := 0
	for _, b := range m.Occupancy {
		n += bits.OnesCount8(b)
	}
	return n
}

// VoxelEdit is one cell assignment within a delta or edit request.
type VoxelEdit struct {
	Index uint16 // 0–4095
	Voxel uint16
	Flags byte
}

// ChunkDelta lists the cells edited since BaseVersion. The receiver must
// reject it if its local version differs from BaseVersion.
type ChunkDelta struct {
	Cx, Cy, Cz  int32
	BaseVersion uint32
	Edits       []VoxelEdit
}

func (ChunkDelta) Kind() byte { return KindChunkDelta }

func (m ChunkDelta) encode(w *Writer) {
	w.WriteD(m.Cx)
	w.WriteD(m.Cy)
	w.WriteD(m.Cz)
	w.WriteDU(m.BaseVersion)
	w.WriteH(uint16(len(m.Edits)))
	for _, e := range m.Edits {
		w.WriteH(e.Index)
		w.WriteH(e.Voxel)
		w.WriteC(e.Flags)
	}
}

// ChunkRequest asks the server to forget the connection's recorded version
// for a chunk so the next tick re-sends a full snapshot.
type ChunkRequest struct {
	Cx, Cy, Cz int32
}

func (ChunkRequest) Kind() byte { return KindChunkRequest }

func (m ChunkRequest) encode(w *Writer) {
	w.WriteD(m.Cx)
	w.WriteD(m.Cy)
	w.WriteD(m.Cz)
}

// ChunkAck confirms client-side application of a chunk version. Optional.
type ChunkAck struct {
	Cx, Cy, Cz int32
	Version    uint32
}

func (ChunkAck) Kind() byte { return KindChunkAck }

func (m ChunkAck) encode(w *Writer) {
	w.WriteD(m.Cx)
	w.WriteD(m.Cy)
	w.WriteD(m.Cz)
	w.WriteDU(m.Version)
}

// ClientEdit requests a single voxel assignment.
type ClientEdit struct {
	Cx, Cy, Cz int32
	Edit       VoxelEdit
}

func (ClientEdit) Kind() byte { return KindClientEdit }

func (m ClientEdit) encode(w *Writer) {
	w.WriteD(m.Cx)
	w.WriteD(m.Cy)
	w.WriteD(m.Cz)
	w.WriteH(m.Edit.Index)
	w.WriteH(m.Edit.Voxel)
	w.WriteC(m.Edit.Flags)
}

// EncodeSubmessage serializes one submessage with its kind tag.
func EncodeSubmessage(s Submessage) []byte {
	w := NewWriter()
	appendSubmessage(w, s)
	return w.Bytes()
}

func appendSubmessage(w *Writer, s Submessage) {
	w.WriteC(s.Kind())
	s.encode(w)
}

// DecodeSubmessage reads one tagged submessage from r. It never panics:
// short buffers yield ErrTruncated, unknown tags ErrBadKind, and invalid
// field values ErrRange.
func DecodeSubmessage(r *Reader) (Submessage, error) {
	kind := r.ReadC()
	if r.Truncated() {
		return nil, ErrTruncated
	}

	var (
		m   Submessage
		err error
	)
	switch kind {
	case KindHello:
		m = Hello{Version: r.ReadH()}
	case KindWelcome:
		m = Welcome{EntityID: r.ReadDU(), TickRate: r.ReadC(), MaxRadius: r.ReadC()}
	case KindSetInterest:
		m = SetInterest{Cx: r.ReadD(), Cy: r.ReadD(), Cz: r.ReadD(), Radius: r.ReadC()}
	case KindJoin:
		m = Join{EntityID: r.ReadDU()}
	case KindLeave:
		m = Leave{EntityID: r.ReadDU()}
	case KindEntities:
		m, err = decodeEntities(r)
	case KindClientPose:
		m = ClientPose{
			Cx: r.ReadD(), Cy: r.ReadD(), Cz: r.ReadD(),
			Ox: r.ReadHS(), Oy: r.ReadHS(), Oz: r.ReadHS(),
			Yaw: r.ReadH(), Pitch: r.ReadHS(),
			Vx: r.ReadHS(), Vy: r.ReadHS(), Vz: r.ReadHS(),
			State: r.ReadH(),
		}
	case KindChunkSnapshot:
		m, err = decodeSnapshot(r)
	case KindChunkDelta:
		m, err = decodeDelta(r)
	case KindChunkRequest:
		m = ChunkRequest{Cx: r.ReadD(), Cy: r.ReadD(), Cz: r.ReadD()}
	case KindChunkAck:
		m = ChunkAck{Cx: r.ReadD(), Cy: r.ReadD(), Cz: r.ReadD(), Version: r.ReadDU()}
	case KindClientEdit:
		var e ClientEdit
		e.Cx, e.Cy, e.Cz = r.ReadD(), r.ReadD(), r.ReadD()
		e.Edit, err = decodeEdit(r)
		m = e
	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrBadKind, kind)
	}
	if err != nil {
		return nil, err
	}
	if r.Truncated() {
		return nil, ErrTruncated
	}
	return m, nil
}

func decodeEntities(r *Reader) (Submessage, error) {
	count := int(r.ReadC())
	m := EntitiesUpdate{}
	if count > 0 {
		m.Entities = make([]EntityUpdate, 0, count)
	}
	for i := 0; i < count; i++ {
		var e EntityUpdate
		e.ID = r.ReadDU()
		e.Mask = r.ReadC()
		if r.Truncated() {
			return nil, ErrTruncated
		}
		if e.Mask&maskReserved != 0 {
			return nil, fmt.Errorf("%w: entity mask 0x%02X", ErrRange, e.Mask)
		}
		if e.Mask&MaskSameChunk != 0 && e.Mask&MaskPos == 0 {
			return nil, fmt.Errorf("%w: SAME_CHUNK without POS", ErrRange)
		}
		if e.Mask&MaskPos != 0 {
			if e.Mask&MaskSameChunk == 0 {
				e.Cx, e.Cy, e.Cz = r.ReadD(), r.ReadD(), r.ReadD()
			}
			e.Ox, e.Oy, e.Oz = r.ReadHS(), r.ReadHS(), r.ReadHS()
		}
		if e.Mask&MaskOrient != 0 {
			e.Yaw = r.ReadH()
			e.Pitch = r.ReadHS()
		}
		if e.Mask&MaskVel != 0 {
			e.Vx, e.Vy, e.Vz = r.ReadHS(), r.ReadHS(), r.ReadHS()
		}
		if e.Mask&MaskState != 0 {
			e.State = r.ReadH()
		}
		if r.Truncated() {
			return nil, ErrTruncated
		}
		m.Entities = append(m.Entities, e)
	}
	return m, nil
}

func decodeSnapshot(r *Reader) (Submessage, error) {
	var m ChunkSnapshot
	m.Cx, m.Cy, m.Cz = r.ReadD(), r.ReadD(), r.ReadD()
	m.Version = r.ReadDU()
	r.ReadBytes(m.Occupancy[:])
	if r.Truncated() {
		return nil, ErrTruncated
	}
	n := m.OccupiedCount()
	if r.Remaining() < 2*n {
		return nil, ErrTruncated
	}
	m.Voxels = make([]uint16, n)
	for i := range m.Voxels {
		m.Voxels[i] = r.ReadH()
	}
	return m, nil
}

func decodeDelta(r *Reader) (Submessage, error) {
	var m ChunkDelta
	m.Cx, m.Cy, m.Cz = r.ReadD(), r.ReadD(), r.ReadD()
	m.BaseVersion = r.ReadDU()
	count := int(r.ReadH())
	if r.Truncated() {
		return nil, ErrTruncated
	}
	if count > ChunkCells {
		return nil, fmt.Errorf("%w: delta edit count %d", ErrRange, count)
	}
	if r.Remaining() < 5*count {
		return nil, ErrTruncated
	}
	m.Edits = make([]VoxelEdit, 0, count)
	for i := 0; i < count; i++ {
		e, err := decodeEdit(r)
		if err != nil {
			return nil, err
		}
		m.Edits = append(m.Edits, e)
	}
	return m, nil
}

func decodeEdit(r *Reader) (VoxelEdit, error) {
	e := VoxelEdit{Index: r.ReadH(), Voxel: r.ReadH(), Flags: r.ReadC()}
	if r.Truncated() {
		return e, ErrTruncated
	}
	if e.Index >= ChunkCells {
		return e, fmt.Errorf("%w: cell index %d", ErrRange, e.Index)
	}
	if e.Flags&voxelFlagReserved != 0 {
		return e, fmt.Errorf("%w: voxel flags 0x%02X", ErrRange, e.Flags)
	}
	return e, nil
}
