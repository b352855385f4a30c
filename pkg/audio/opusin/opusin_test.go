package opusin

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"layeh.com/gopus"
)

// encodeSilence produces one real Opus packet of 20 ms silence.
func encodeSilence(t *testing.T) []byte {
	t.Helper()
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	packet, err := enc.Encode(make([]int16, opusFrameSize), opusFrameSize, maxPacketSize)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return packet
}

func frame(packets ...[]byte) *bytes.Buffer {
	var buf bytes.Buffer
	var hdr [2]byte
	for _, p := range packets {
		binary.BigEndian.PutUint16(hdr[:], uint16(len(p)))
		buf.Write(hdr[:])
		buf.Write(p)
	}
	return &buf
}

func TestStartTwiceFails(t *testing.T) {
	s := New()
	if err := s.Start(func([]float32) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	if err := s.Start(func([]float32) {}); err == nil {
		t.Error("second Start accepted")
	}
}

func TestWritePacketBeforeStartIsDropped(t *testing.T) {
	s := New()
	if err := s.WritePacket([]byte{0x01}); err != nil {
		t.Errorf("WritePacket before Start = %v, want nil drop", err)
	}
}

func TestReadStreamDecodesPackets(t *testing.T) {
	packet := encodeSilence(t)

	s := New()
	var chunks [][]float32
	if err := s.Start(func(samples []float32) {
		cp := make([]float32, len(samples))
		copy(cp, samples)
		chunks = append(chunks, cp)
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })

	if err := s.ReadStream(frame(packet, packet)); err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("decoded %d chunks, want 2", len(chunks))
	}
	for i, c := range chunks {
		if len(c) != opusFrameSize {
			t.Errorf("chunk %d has %d samples, want %d", i, len(c), opusFrameSize)
		}
	}
}

func TestReadStreamCleanEOF(t *testing.T) {
	s := New()
	if err := s.Start(func([]float32) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	if err := s.ReadStream(strings.NewReader("")); err != nil {
		t.Errorf("ReadStream on empty input = %v, want nil", err)
	}
}

func TestReadStreamRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], maxPacketSize+1)
	buf.Write(hdr[:])

	s := New()
	if err := s.Start(func([]float32) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	if err := s.ReadStream(&buf); err == nil {
		t.Error("oversized frame accepted")
	}
}
