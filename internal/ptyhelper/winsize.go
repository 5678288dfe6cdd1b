package ptyhelper

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// WatchWinch reports the terminal's current size to resize whenever the
// process receives SIGWINCH, invoking onResize with the new dimensions.
// It returns a stop function that releases the signal handler. Intended
// for cmd/tab, which runs attached to the user's real terminal and must
// propagate size changes to the tab it's streaming.
func WatchWinch(onResize func(cols, rows uint16)) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGWINCH)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ch:
				if cols, rows, ok := TerminalSize(os.Stdout); ok {
					onResize(cols, rows)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// TerminalSize queries the current size of a terminal file descriptor.
func TerminalSize(f *os.File) (cols, rows uint16, ok bool) {
	ws, err := unix.IoctlGetWinsize(int(f.Fd()), unix.TIOCGWINSZ)
	if err != nil {
		return 0, 0, false
	}
	return ws.Col, ws.Row, true
}
