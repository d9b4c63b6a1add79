//go:build linux

package console

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var baudRates = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1500000: unix.B1500000,
}

// OpenSerial opens a serial device in raw 8N1 mode at the given baud rate
// (115200 when zero).
func OpenSerial(path string, baud int, opts ...Option) (*Session, error) {
	if baud == 0 {
		baud = 115200
	}
	rate, ok := baudRates[baud]
	if !ok {
		return nil, fmt.Errorf("console: unsupported baud rate %d", baud)
	}

	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("console: opening %s: %w", path, err)
	}

	raw, err := f.SyscallConn()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("console: %s: %w", path, err)
	}

	var termErr error
	err = raw.Control(func(fd uintptr) {
		t, err := unix.IoctlGetTermios(int(fd), unix.TCGETS)
		if err != nil {
			termErr = err
			return
		}
		t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
			unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
		t.Oflag &^= unix.OPOST
		t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
		t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CBAUD
		t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | rate
		t.Ispeed = rate
		t.Ospeed = rate
		t.Cc[unix.VMIN] = 1
		t.Cc[unix.VTIME] = 0
		termErr = unix.IoctlSetTermios(int(fd), unix.TCSETS, t)
	})
	if err == nil {
		err = termErr
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("console: configuring %s: %w", path, err)
	}

	return NewSession(f, opts...), nil
}
