// Command tab-pty is the pty helper process (the "pty" role): a
// short-lived child that connects to the daemon's /pty endpoint, races to
// accept the assignment offer for the tab id it was spawned for, and then
// owns exactly one child shell under a real pseudo-terminal for the rest
// of its life. It is grounded on the teacher's sandbox pty package
// (creack/pty spawn + resize + signal), wired here to the daemon over
// internal/transport instead of being driven in-process by a sandbox
// controller.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tabmux/tab/internal/ptyhelper"
	"github.com/tabmux/tab/internal/rundir"
	"github.com/tabmux/tab/internal/tabid"
	"github.com/tabmux/tab/internal/transport"
	"github.com/tabmux/tab/internal/wire"
)

func main() {
	wantID := flag.Uint("tab-id", 0, "tab id this helper was spawned to serve")
	flag.Parse()

	dir, err := rundir.Dir()
	if err != nil {
		log.Fatalf("tab-pty: %v", err)
	}
	daemon, err := rundir.ReadDaemonFile(dir)
	if err != nil {
		log.Fatalf("tab-pty: read daemon file: %v", err)
	}
	token := os.Getenv("TAB_AUTH_TOKEN")
	if token == "" {
		token = daemon.AuthToken
	}

	conn, err := transport.DialPty(transport.DialConfig{SocketPath: daemon.SocketPath, Token: token})
	if err != nil {
		log.Fatalf("tab-pty: dial: %v", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := &helper{
		conn:    conn,
		wantID:  tabid.ID(*wantID),
		histDir: dir,
	}
	h.run(ctx)
}

// helper owns the handshake and relay loop for one pty helper process's
// lifetime: at most one assigned shell, ever.
type helper struct {
	conn *transport.Conn
	pty  *ptyhelper.PTY
	meta wire.TabMetadata

	wantID  tabid.ID
	histDir string

	outputOffset uint64
}

func (h *helper) run(ctx context.Context) {
	for {
		data, err := h.conn.Recv()
		if err != nil {
			log.Printf("tab-pty: connection closed before assignment: %v", err)
			return
		}
		req, err := wire.DecodePtyRequest(data)
		if err != nil {
			log.Printf("tab-pty: decode: %v", err)
			continue
		}
		init, ok := req.(wire.PtyInitRequest)
		if !ok {
			continue
		}
		if h.wantID != 0 && init.Meta.ID != h.wantID {
			continue
		}
		if h.accept(init.Meta) {
			break
		}
	}

	h.relay(ctx)
}

func (h *helper) accept(meta wire.TabMetadata) bool {
	histDir := ""
	if h.histDir != "" {
		histDir = h.histDir + "/" + meta.ID.String()
		_ = os.MkdirAll(histDir, 0o700)
	}

	p, err := ptyhelper.Spawn(meta.Shell, meta.WorkingDir, meta.Dimensions.Cols, meta.Dimensions.Rows, meta.Env, histDir)
	if err != nil {
		log.Printf("tab-pty: spawn shell for %s: %v", meta.ID, err)
		return false
	}
	h.pty = p
	h.meta = meta

	data, err := wire.EncodePtyResponse(wire.PtyStartedResponse{Meta: meta})
	if err != nil {
		log.Printf("tab-pty: encode started: %v", err)
		p.Close()
		return false
	}
	if err := h.conn.Send(data); err != nil {
		p.Close()
		return false
	}
	return true
}

func (h *helper) relay(ctx context.Context) {
	// Resize comes only from PtyResizeRequest below: this process has no
	// controlling terminal of its own (its stdio is detached), so there
	// is no SIGWINCH to watch here the way cmd/tab watches one on the
	// user's real terminal.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, 32*1024)
		for {
			n, err := h.pty.Read(buf)
			if n > 0 {
				chunk := wire.OutputChunk{Index: h.outputOffset, Data: append([]byte(nil), buf[:n]...)}
				h.outputOffset += uint64(n)
				data, encErr := wire.EncodePtyResponse(wire.PtyOutputResponse{Chunk: chunk})
				if encErr == nil {
					if sendErr := h.conn.Send(data); sendErr != nil {
						return
					}
				}
			}
			if err != nil {
				return
			}
		}
	}()

	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		for {
			data, err := h.conn.Recv()
			if err != nil {
				return
			}
			req, err := wire.DecodePtyRequest(data)
			if err != nil {
				log.Printf("tab-pty: decode: %v", err)
				continue
			}
			switch r := req.(type) {
			case wire.PtyInputRequest:
				_, _ = h.pty.Write(r.Chunk.Data)
			case wire.PtyResizeRequest:
				_ = h.pty.Resize(r.Dimensions.Cols, r.Dimensions.Rows)
			case wire.PtyTerminateRequest:
				h.pty.Close()
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-h.pty.Done():
	case <-readDone:
	case <-recvDone:
	}

	h.pty.Close()
	stopped, err := wire.EncodePtyResponse(wire.PtyStoppedResponse{})
	if err == nil {
		_ = h.conn.Send(stopped)
	}
}
