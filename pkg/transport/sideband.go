package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Sideband channel identifiers.
const (
	SidebandData     byte = 0x01
	SidebandProgress byte = 0x02
	SidebandError    byte = 0x03
)

// maxFrame bounds a single frame so a corrupt length cannot force a huge
// allocation.
const maxFrame = 64 << 20

// SidebandWriter writes length-prefixed sideband frames.
// Frame format: [4 bytes big-endian length][1 byte channel][payload]
type SidebandWriter struct {
	w io.Writer
}

func NewSidebandWriter(w io.Writer) *SidebandWriter {
	return &SidebandWriter{w: w}
}

func (sw *SidebandWriter) writeFrame(channel byte, data []byte) error {
	hdr := make([]byte, 5)
	binary.BigEndian.PutUint32(hdr, uint32(1+len(data)))
	hdr[4] = channel
	if _, err := sw.w.Write(hdr); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(data) > 0 {
		if _, err := sw.w.Write(data); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
	}
	return nil
}

func (sw *SidebandWriter) WriteData(data []byte) error {
	return sw.writeFrame(SidebandData, data)
}

func (sw *SidebandWriter) WriteProgress(msg string) error {
	return sw.writeFrame(SidebandProgress, []byte(msg))
}

func (sw *SidebandWriter) WriteError(msg string) error {
	return sw.writeFrame(SidebandError, []byte(msg))
}

// SidebandReader reads length-prefixed sideband frames.
type SidebandReader struct {
	r io.Reader
}

func NewSidebandReader(r io.Reader) *SidebandReader {
	return &SidebandReader{r: r}
}

// ReadFrame reads one sideband frame, returning channel and payload.
// Returns io.EOF when no more frames are available.
func (sr *SidebandReader) ReadFrame() (byte, []byte, error) {
	var frameLen uint32
	if err := binary.Read(sr.r, binary.BigEndian, &frameLen); err != nil {
		return 0, nil, err
	}
	if frameLen < 1 || frameLen > maxFrame {
		return 0, nil, fmt.Errorf("sideband frame length %d out of range", frameLen)
	}

	frame := make([]byte, frameLen)
	if _, err := io.ReadFull(sr.r, frame); err != nil {
		return 0, nil, fmt.Errorf("read frame: %w", err)
	}
	return frame[0], frame[1:], nil
}
