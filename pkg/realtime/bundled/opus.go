package bundled

import "errors"

// ErrOpusUnavailable is returned when the binary was built without cgo.
var ErrOpusUnavailable = errors.New("bundled: opus codec requires cgo and libopus")

// opusCodec encodes microphone frames and decodes remote packets.
type opusCodec interface {
	Encode(pcm []int16, data []byte) (int, error)
	Decode(data []byte, pcm []int16) (int, error)
}
