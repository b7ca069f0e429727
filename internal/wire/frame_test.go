package wire

import (
	"bytes"
	"testing"
)

func TestEncodeFrameSmallPayload(t *testing.T) {
	payload := []byte("SELECT 1")
	framed, next := EncodeFrame(payload, 5)

	length, seqID, ok := PeekHeader(framed)
	if !ok {
		t.Fatal("could not peek header")
	}
	if int(length) != len(payload) {
		t.Errorf("length = %d, want %d", length, len(payload))
	}
	if seqID != 5 {
		t.Errorf("seqID = %d, want 5", seqID)
	}
	if next != 6 {
		t.Errorf("nextSeqID = %d, want 6", next)
	}
	if !bytes.Equal(framed[FrameHeaderSize:], payload) {
		t.Errorf("payload = %q, want %q", framed[FrameHeaderSize:], payload)
	}
}

func TestEncodeFrameSplitsOversizedPayload(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), MaxFrameSize+10)
	framed, next := EncodeFrame(payload, 0)

	fr := NewFramer()
	fr.Feed(framed)

	var frames []Frame
	for {
		f, ok, err := fr.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		frames = append(frames, f)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if len(frames[0].Payload) != MaxFrameSize || !frames[0].More {
		t.Errorf("first frame: len=%d more=%v, want len=%d more=true", len(frames[0].Payload), frames[0].More, MaxFrameSize)
	}
	if len(frames[1].Payload) != 10 || frames[1].More {
		t.Errorf("second frame: len=%d more=%v, want len=10 more=false", len(frames[1].Payload), frames[1].More)
	}

	var reassembled []byte
	for _, f := range frames {
		reassembled = append(reassembled, f.Payload...)
	}
	if !bytes.Equal(reassembled, payload) {
		t.Error("reassembled payload does not match original")
	}
	if frames[0].SeqID != 0 || frames[1].SeqID != 1 {
		t.Errorf("seq ids = %d, %d, want 0, 1", frames[0].SeqID, frames[1].SeqID)
	}
	if next != 2 {
		t.Errorf("nextSeqID = %d, want 2", next)
	}
}

func TestEncodeFrameExactMultipleEmitsTerminator(t *testing.T) {
	payload := bytes.Repeat([]byte("b"), MaxFrameSize)
	framed, next := EncodeFrame(payload, 0)

	fr := NewFramer()
	fr.Feed(framed)

	var frames []Frame
	for {
		f, ok, err := fr.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		frames = append(frames, f)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2 (data + terminator)", len(frames))
	}
	if len(frames[1].Payload) != 0 {
		t.Errorf("terminator payload length = %d, want 0", len(frames[1].Payload))
	}
	if next != 2 {
		t.Errorf("nextSeqID = %d, want 2", next)
	}
}

func TestFramerFeedsIncrementally(t *testing.T) {
	payload := []byte("ping")
	framed, _ := EncodeFrame(payload, 3)

	fr := NewFramer()
	for i := 0; i < len(framed); i++ {
		fr.Feed(framed[i : i+1])
		f, ok, err := fr.Next()
		if err != nil {
			t.Fatal(err)
		}
		if i < len(framed)-1 {
			if ok {
				t.Fatalf("frame completed early after %d bytes", i+1)
			}
			continue
		}
		if !ok {
			t.Fatal("frame did not complete after last byte")
		}
		if !bytes.Equal(f.Payload, payload) {
			t.Errorf("payload = %q, want %q", f.Payload, payload)
		}
	}
	if fr.Pending() != 0 {
		t.Errorf("pending = %d, want 0", fr.Pending())
	}
}

func TestFramerConsumesMultipleFramesFromOneFeed(t *testing.T) {
	f1, seq1 := EncodeFrame([]byte("one"), 0)
	f2, _ := EncodeFrame([]byte("two"), seq1)

	fr := NewFramer()
	fr.Feed(append(append([]byte{}, f1...), f2...))

	got, ok, err := fr.Next()
	if err != nil || !ok || string(got.Payload) != "one" {
		t.Fatalf("first frame = %+v, ok=%v, err=%v", got, ok, err)
	}
	got, ok, err = fr.Next()
	if err != nil || !ok || string(got.Payload) != "two" {
		t.Fatalf("second frame = %+v, ok=%v, err=%v", got, ok, err)
	}
	if fr.Pending() != 0 {
		t.Errorf("pending = %d, want 0", fr.Pending())
	}
}

func TestMaskUnsupportedClearsCompressAndSSL(t *testing.T) {
	caps := uint32(CoreCapabilities | ClientCompress | ClientSSL | ClientPluginAuth)
	masked := MaskUnsupported(caps)
	if masked&ClientCompress != 0 || masked&ClientSSL != 0 {
		t.Errorf("masked capabilities still contain COMPRESS/SSL: %#x", masked)
	}
	if masked&ClientPluginAuth == 0 {
		t.Error("MaskUnsupported cleared an unrelated bit")
	}
}
