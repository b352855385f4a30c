package opusin

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// maxPacketSize bounds a single Opus packet on the framed stream. Anything
// larger indicates a desynchronised or hostile feed.
const maxPacketSize = 4096

// ReadStream consumes length-framed Opus packets from r until EOF and feeds
// them to the source. Each packet is preceded by a big-endian uint16 length.
// The framing matches what telephony bridges typically emit on a pipe.
//
// ReadStream returns nil on clean EOF and the underlying error otherwise.
func (s *Source) ReadStream(r io.Reader) error {
	var hdr [2]byte
	buf := make([]byte, maxPacketSize)
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("opusin: read frame header: %w", err)
		}
		n := int(binary.BigEndian.Uint16(hdr[:]))
		if n == 0 {
			continue
		}
		if n > maxPacketSize {
			return fmt.Errorf("opusin: frame of %d bytes exceeds limit %d", n, maxPacketSize)
		}
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return fmt.Errorf("opusin: read frame body: %w", err)
		}
		if err := s.WritePacket(buf[:n]); err != nil {
			return err
		}
	}
}
