//go:build !cgo

package bundled

func newOpusCodec(rate, channels int) (opusCodec, error) {
	return nil, ErrOpusUnavailable
}
