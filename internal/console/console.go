// Package console adapts the host terminal to the emulated UART: raw stdin bytes are copied to the
// guest's receive path, and bytes the guest writes to its transmit register are copied to stdout.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/smoynes/rvemu/internal/bus"
)

// ErrNoTTY is returned if standard input is not a terminal. The caller may still run the machine;
// it simply won't have interactive console input.
var ErrNoTTY error = errors.New("console: not a TTY")

// Console wires a Uart device to the host terminal.
type Console struct {
	in  *os.File
	out io.Writer
	fd  int

	state *term.State
}

// Attach puts the terminal into raw mode and starts a goroutine copying stdin bytes into uart,
// returning a restore function the caller must invoke (typically via defer) before exiting. If
// stdin is not a terminal, Attach still wires uart's transmit output to stdout but returns
// ErrNoTTY alongside a no-op restore.
func Attach(ctx context.Context, uart *bus.Uart) (restore func(), err error) {
	uart.SetOutput(func(b byte) {
		_, _ = os.Stdout.Write([]byte{b})
	})

	fd := int(os.Stdin.Fd())

	if !term.IsTerminal(fd) {
		return func() {}, ErrNoTTY
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		return func() {}, fmt.Errorf("%w: %w", ErrNoTTY, err)
	}

	c := &Console{
		in:    os.Stdin,
		out:   os.Stdout,
		fd:    fd,
		state: saved,
	}

	if err := c.setTerminalParams(1, 0); err != nil {
		_ = term.Restore(fd, saved)
		return func() {}, err
	}

	go c.readStdin(ctx, uart)

	return c.restore, nil
}

func (c *Console) restore() {
	_ = os.Stdin.SetReadDeadline(time.Now())
	_ = term.Restore(c.fd, c.state)
}

func (c *Console) setTerminalParams(vmin, vtime byte) error {
	termIO, err := unix.IoctlGetTermios(c.fd, getTermiosIoctl)
	if err != nil {
		return err
	}

	termIO.Cc[unix.VMIN] = vmin
	termIO.Cc[unix.VTIME] = vtime

	return unix.IoctlSetTermios(c.fd, setTermiosIoctl, termIO)
}

// readStdin copies bytes from stdin to uart until ctx is cancelled or the read fails.
func (c *Console) readStdin(ctx context.Context, uart *bus.Uart) {
	buf := bufio.NewReader(c.in)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b, err := buf.ReadByte()
		if err != nil {
			return
		}

		uart.Receive(b)
	}
}
