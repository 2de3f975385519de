package docdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/s2"
)

// Compression selects the stream transform wrapped around the codec
// output. The strategy is fixed for the lifetime of a data directory;
// changing it requires a migration, never a silent switch.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionSnappy
	CompressionDeflate

	compressionCount
)

var compressionNames = [compressionCount]string{"none", "snappy", "deflate"}

func (c Compression) String() string {
	if c < compressionCount {
		return compressionNames[c]
	}
	return fmt.Sprintf("Compression(%d)", uint8(c))
}

// ParseCompression maps a config string to a strategy.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "snappy", "s2":
		return CompressionSnappy, nil
	case "deflate":
		return CompressionDeflate, nil
	}
	return CompressionNone, fmt.Errorf("unknown compression strategy %q", s)
}

func (c Compression) compress(data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionSnappy:
		return s2.Encode(nil, data), nil
	case CompressionDeflate:
		var bb bytes.Buffer
		w, err := flate.NewWriter(&bb, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return bb.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown compression strategy %d", uint8(c))
}

func (c Compression) decompress(data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionSnappy:
		return s2.Decode(nil, data)
	case CompressionDeflate:
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		return io.ReadAll(r)
	}
	return nil, fmt.Errorf("unknown compression strategy %d", uint8(c))
}

// Blob envelope: strategy byte, xxhash64 of the payload, payload.
const envelopeHeaderLen = 1 + 8

// sealBlob wraps codec output in the compression envelope.
func sealBlob(c Compression, data []byte) ([]byte, error) {
	payload, err := c.compress(data)
	if err != nil {
		return nil, err
	}
	out := make([]byte, envelopeHeaderLen+len(payload))
	out[0] = byte(c)
	binary.BigEndian.PutUint64(out[1:], xxhash.Sum64(payload))
	copy(out[envelopeHeaderLen:], payload)
	return out, nil
}

// openBlob verifies and unwraps the envelope. A strategy mismatch or a
// checksum failure is a data error; garbage is never decoded.
func openBlob(c Compression, blob []byte) ([]byte, error) {
	if len(blob) < envelopeHeaderLen {
		return nil, dataErrf(blob, nil, "blob shorter than envelope header")
	}
	if Compression(blob[0]) != c {
		return nil, dataErrf(blob, nil, "blob written with strategy %v, database configured with %v (migration required)",
			Compression(blob[0]), c)
	}
	payload := blob[envelopeHeaderLen:]
	if sum := xxhash.Sum64(payload); sum != binary.BigEndian.Uint64(blob[1:]) {
		return nil, dataErrf(blob, nil, "blob checksum mismatch")
	}
	return c.decompress(payload)
}
