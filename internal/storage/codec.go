package storage

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Payload encodings stored alongside evidence payloads
const (
	EncodingRaw  = "raw"
	EncodingZstd = "zstd"
)

// PayloadCodec compresses evidence payloads above a size threshold.
// Encoder and decoder are safe for concurrent EncodeAll/DecodeAll use.
type PayloadCodec struct {
	threshold int
	enc       *zstd.Encoder
	dec       *zstd.Decoder
}

// NewPayloadCodec creates a codec. A threshold <= 0 disables compression.
func NewPayloadCodec(threshold int) (*PayloadCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	return &PayloadCodec{threshold: threshold, enc: enc, dec: dec}, nil
}

// Encode returns the stored form of payload and its encoding name.
// Compression is skipped when it would not shrink the payload.
func (c *PayloadCodec) Encode(payload []byte) ([]byte, string) {
	if c.threshold <= 0 || len(payload) < c.threshold {
		return payload, EncodingRaw
	}
	out := c.enc.EncodeAll(payload, make([]byte, 0, len(payload)/2))
	if len(out) >= len(payload) {
		return payload, EncodingRaw
	}
	return out, EncodingZstd
}

// Decode reverses Encode
func (c *PayloadCodec) Decode(data []byte, encoding string) ([]byte, error) {
	switch encoding {
	case EncodingRaw, "":
		return data, nil
	case EncodingZstd:
		out, err := c.dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decode payload: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown payload encoding %q", encoding)
	}
}

// Close releases encoder and decoder resources
func (c *PayloadCodec) Close() {
	_ = c.enc.Close()
	c.dec.Close()
}
