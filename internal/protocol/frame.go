package protocol

import "fmt"

// Frame type bytes. One websocket message carries exactly one frame.
const (
	FrameServer byte = 0x10 // S→C: u32 tick, u8 count, submessages
	FrameClient byte = 0x11 // C→S: u32 client seq, u8 count, submessages
)

// MaxSubmessages is the per-frame submessage limit imposed by the u8 count.
const MaxSubmessages = 255

// EncodeServerFrame serializes one server→client frame for the given tick.
func EncodeServerFrame(tick uint32, subs []Submessage) ([]byte, error) {
	return encodeFrame(FrameServer, tick, subs)
}

// EncodeClientFrame serializes one client→server frame.
func EncodeClientFrame(seq uint32, subs []Submessage) ([]byte, error) {
	return encodeFrame(FrameClient, seq, subs)
}

func encodeFrame(typ byte, hdr uint32, subs []Submessage) ([]byte, error) {
	if len(subs) > MaxSubmessages {
		return nil, fmt.Errorf("%w: %d submessages", ErrRange, len(subs))
	}
	w := NewWriter()
	w.WriteC(typ)
	w.WriteDU(hdr)
	w.WriteC(byte(len(subs)))
	for _, s := range subs {
		appendSubmessage(w, s)
	}
	return w.Bytes(), nil
}

// DecodeServerFrame parses one server→client frame.
func DecodeServerFrame(data []byte) (tick uint32, subs []Submessage, err error) {
	return decodeFrame(FrameServer, data)
}

// DecodeClientFrame parses one client→server frame. Any malformation —
// wrong type byte, short header, submessage decode failure, or trailing
// bytes — yields an error and no partial result.
func DecodeClientFrame(data []byte) (seq uint32, subs []Submessage, err error) {
	return decodeFrame(FrameClient, data)
}

func decodeFrame(typ byte, data []byte) (uint32, []Submessage, error) {
	r := NewReader(data)
	got := r.ReadC()
	hdr := r.ReadDU()
	count := int(r.ReadC())
	if r.Truncated() {
		return 0, nil, fmt.Errorf("%w: short header", ErrBadFrame)
	}
	if got != typ {
		return 0, nil, fmt.Errorf("%w: frame type 0x%02X", ErrBadFrame, got)
	}
	subs := make([]Submessage, 0, count)
	for i := 0; i < count; i++ {
		m, err := DecodeSubmessage(r)
		if err != nil {
			return 0, nil, err
		}
		subs = append(subs, m)
	}
	if r.Remaining() != 0 {
		return 0, nil, fmt.Errorf("%w: %d trailing bytes", ErrBadFrame, r.Remaining())
	}
	return hdr, subs, nil
}
