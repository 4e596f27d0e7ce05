package socket

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Frame layout: 4-byte big-endian payload length, 1 flag byte, payload.
// Payloads above the registry's compression limit are zstd-compressed.
const (
	flagRaw  byte = 0
	flagZstd byte = 1

	// MaxFrameSize caps inbound and outbound frames. A listener client has
	// no business sending anything near this.
	MaxFrameSize = 16 << 20
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// WriteFrame writes one frame, compressing payloads above compressLimit
// (0 disables compression).
func WriteFrame(w io.Writer, payload []byte, compressLimit int) error {
	flag := flagRaw
	if compressLimit > 0 && len(payload) > compressLimit {
		payload = zstdEncoder.EncodeAll(payload, nil)
		flag = flagZstd
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(payload))
	}

	var header [5]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)))
	header[4] = flag

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one frame and returns the decompressed payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:4])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	if header[4] == flagZstd {
		return zstdDecoder.DecodeAll(payload, nil)
	}
	return payload, nil
}
