//go:build !unix

package transport

import "errors"

// FDSource is only available on unix platforms.
type FDSource struct{}

func NewFDSource(fd int) (*FDSource, error) {
	return nil, errors.New("fd polling not supported on this platform")
}

func (s *FDSource) TryReadByte() (byte, bool, error) {
	return 0, false, errors.New("fd polling not supported on this platform")
}
