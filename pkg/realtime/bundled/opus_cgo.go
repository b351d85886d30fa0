//go:build cgo

package bundled

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

type libopus struct {
	enc *opus.Encoder
	dec *opus.Decoder
}

func newOpusCodec(rate, channels int) (opusCodec, error) {
	enc, err := opus.NewEncoder(rate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	dec, err := opus.NewDecoder(rate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	return &libopus{enc: enc, dec: dec}, nil
}

func (c *libopus) Encode(pcm []int16, data []byte) (int, error) {
	return c.enc.Encode(pcm, data)
}

func (c *libopus) Decode(data []byte, pcm []int16) (int, error) {
	return c.dec.Decode(data, pcm)
}
