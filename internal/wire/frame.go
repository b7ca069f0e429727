package wire

// MaxFrameSize is the largest payload a single MySQL frame may carry
// (16 MiB). A logical message that needs more is split across
// consecutive maximal frames, terminated by a non-maximal one.
const MaxFrameSize = 1<<24 - 1

// FrameHeaderSize is the length of a frame header: a 24-bit little-endian
// payload length plus an 8-bit sequence id.
const FrameHeaderSize = 4

// Frame is a single on-wire packet: header plus payload.
type Frame struct {
	SeqID   byte
	Payload []byte
	// More is true when Payload is exactly MaxFrameSize bytes, signalling
	// that the logical message continues in the next frame.
	More bool
}

// EncodeFrame writes payload as one or more consecutive frames (splitting
// at MaxFrameSize, terminated by a non-maximal frame — possibly
// zero-length when len(payload) is itself a multiple of MaxFrameSize),
// starting at seqID and incrementing by one per frame. It returns the
// next sequence id to use.
func EncodeFrame(payload []byte, seqID byte) (framed []byte, nextSeqID byte) {
	out := make([]byte, 0, len(payload)+FrameHeaderSize)
	for {
		n := len(payload)
		if n > MaxFrameSize {
			n = MaxFrameSize
		}
		chunk := payload[:n]
		payload = payload[n:]

		out = append(out, byte(n), byte(n>>8), byte(n>>16), seqID)
		out = append(out, chunk...)
		seqID++

		if n < MaxFrameSize {
			break
		}
		if len(payload) == 0 {
			// Exact multiple of MaxFrameSize: emit the terminating
			// zero-length frame required by the protocol.
			out = append(out, 0, 0, 0, seqID)
			seqID++
			break
		}
	}
	return out, seqID
}

// PeekHeader decodes a 4-byte frame header without consuming it.
func PeekHeader(header []byte) (length uint32, seqID byte, ok bool) {
	if len(header) < FrameHeaderSize {
		return 0, 0, false
	}
	length = uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16
	seqID = header[3]
	return length, seqID, true
}

// Framer consumes a raw byte stream (the Socket's receive-raw queue, in
// spec terms) and produces whole Frames. Bytes that do not yet complete a
// frame are kept in its own pending buffer, alongside the in-progress
// header/length state described in §3 of the spec ("packet_len == UNSET
// iff no header has yet been consumed").
type Framer struct {
	// pending holds bytes that arrived but did not yet complete a frame.
	pending []byte
	// length is UNSET (-1) until a header has been parsed for the frame
	// currently being assembled.
	length int
	seqID  byte
	haveHdr bool
}

// NewFramer returns a Framer ready to consume a fresh byte stream.
func NewFramer() *Framer {
	return &Framer{length: -1}
}

// Feed appends newly-read bytes to the framer's internal buffer.
func (f *Framer) Feed(b []byte) {
	f.pending = append(f.pending, b...)
}

// Next attempts to extract one complete Frame from the buffered bytes.
// ok is false if more bytes are needed; err is non-nil only if the
// buffered bytes could never form a valid frame (never happens for this
// framer, which only inspects the length field, but is kept for
// interface symmetry with the rest of the codec, which always returns
// Malformed as a possible outcome).
func (f *Framer) Next() (frame Frame, ok bool, err error) {
	if !f.haveHdr {
		if len(f.pending) < FrameHeaderSize {
			return Frame{}, false, nil
		}
		length, seqID, _ := PeekHeader(f.pending)
		f.length = int(length)
		f.seqID = seqID
		f.haveHdr = true
	}

	total := FrameHeaderSize + f.length
	if len(f.pending) < total {
		return Frame{}, false, nil
	}

	payload := make([]byte, f.length)
	copy(payload, f.pending[FrameHeaderSize:total])
	f.pending = f.pending[total:]
	f.haveHdr = false
	f.length = -1

	return Frame{
		SeqID:   f.seqID,
		Payload: payload,
		More:    len(payload) == MaxFrameSize,
	}, true, nil
}

// Pending returns the number of bytes buffered but not yet formed into a
// frame (the "suffix shorter than the next header demands" from the
// framer invariant in §8).
func (f *Framer) Pending() int {
	return len(f.pending)
}
