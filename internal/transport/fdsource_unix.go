//go:build unix

package transport

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"
)

// FDSource polls a file descriptor with a zero timeout before every read, so
// a console or pipe can be serviced from the cycle loop without a goroutine.
type FDSource struct {
	fd  int
	buf [256]byte
	n   int
	off int
	eof bool
}

// NewFDSource wraps an open descriptor such as os.Stdin.Fd().
func NewFDSource(fd int) (*FDSource, error) { return &FDSource{fd: fd}, nil }

func (s *FDSource) TryReadByte() (byte, bool, error) {
	if s.off < s.n {
		b := s.buf[s.off]
		s.off++
		return b, true, nil
	}
	if s.eof {
		return 0, false, io.EOF
	}
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if n == 0 || fds[0].Revents&(unix.POLLIN|unix.POLLHUP) == 0 {
		return 0, false, nil
	}
	m, err := unix.Read(s.fd, s.buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if m == 0 {
		s.eof = true
		return 0, false, io.EOF
	}
	s.n, s.off = m, 1
	return s.buf[0], true, nil
}

var _ Source = (*FDSource)(nil)
