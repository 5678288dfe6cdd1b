package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tabmux/tab/internal/broker"
	"github.com/tabmux/tab/internal/cliconn"
	"github.com/tabmux/tab/internal/ptyconn"
	"github.com/tabmux/tab/internal/transport"
	"github.com/tabmux/tab/internal/wire"
)

// TestFullTabLifecycle mirrors the daemon's own wiring (broker + listener +
// per-connection sessions) without going through main()'s process-level
// concerns (rundir claiming, pid files, spawning real pty-helper
// processes), exercising the same path a command and a pty helper take
// end to end: create, subscribe, stream output, close.
func TestFullTabLifecycle(t *testing.T) {
	dir := t.TempDir()
	token := "test-token"
	sock := filepath.Join(dir, "daemon.sock")

	listener, err := transport.Listen(sock, token)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	b := broker.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go listener.Serve(ctx, func(a transport.Accepted) {
		switch a.Kind {
		case transport.KindCli:
			go cliconn.New(a.Conn, b).Run(ctx)
		case transport.KindPty:
			go ptyconn.New(a.Conn, b).Run(ctx)
		}
	})

	cliConn, err := transport.DialCli(transport.DialConfig{SocketPath: sock, Token: token})
	if err != nil {
		t.Fatalf("dial cli: %v", err)
	}
	defer cliConn.Close()

	ptyConn, err := transport.DialPty(transport.DialConfig{SocketPath: sock, Token: token})
	if err != nil {
		t.Fatalf("dial pty: %v", err)
	}
	defer ptyConn.Close()

	// The real daemon drives Board.Tick from a supervisor on a
	// RetractInterval ticker; without it, an offer posted before this
	// test's pty connection finishes registering server-side (an
	// inherent race between DialPty returning and ptyconn.New running in
	// its own goroutine) would never be retried.
	tickerDone := make(chan struct{})
	defer close(tickerDone)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.Board().Tick()
			case <-tickerDone:
				return
			}
		}
	}()

	// Init snapshot.
	mustDecodeResponse(t, cliConn)

	send(t, cliConn, wire.CreateTabRequest{Meta: wire.CreateTabMetadata{Name: "build"}})
	upd := mustDecodeResponse(t, cliConn).(wire.TabUpdateResponse)
	if upd.Meta.Name != "build" {
		t.Fatalf("expected tab named build, got %q", upd.Meta.Name)
	}

	ptyInit := mustDecodePtyRequest(t, ptyConn).(wire.PtyInitRequest)
	if ptyInit.Meta.ID != upd.Meta.ID {
		t.Fatalf("pty helper offered wrong tab")
	}
	sendPty(t, ptyConn, wire.PtyStartedResponse{Meta: ptyInit.Meta})

	send(t, cliConn, wire.SubscribeRequest{TabID: upd.Meta.ID})
	scrollback := mustDecodeResponse(t, cliConn).(wire.ScrollbackResponse)
	if len(scrollback.Chunks) != 0 {
		t.Fatalf("expected empty scrollback for a fresh tab")
	}

	sendPty(t, ptyConn, wire.PtyOutputResponse{Chunk: wire.OutputChunk{Index: 0, Data: []byte("hello\n")}})
	out := mustDecodeResponse(t, cliConn).(wire.OutputResponse)
	if string(out.Chunk.Data) != "hello\n" {
		t.Fatalf("expected forwarded output, got %q", out.Chunk.Data)
	}

	send(t, cliConn, wire.CloseTabRequest{TabID: upd.Meta.ID})
	term := mustDecodeResponse(t, cliConn).(wire.TabTerminatedResponse)
	if term.TabID != upd.Meta.ID {
		t.Fatalf("expected termination for %v, got %v", upd.Meta.ID, term.TabID)
	}
}

func send(t *testing.T, conn *transport.Conn, r wire.Request) {
	t.Helper()
	data, err := wire.EncodeRequest(r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.Send(data); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func sendPty(t *testing.T, conn *transport.Conn, r wire.PtyResponse) {
	t.Helper()
	data, err := wire.EncodePtyResponse(r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.Send(data); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func mustDecodeResponse(t *testing.T, conn *transport.Conn) wire.Response {
	t.Helper()
	data, err := conn.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	resp, err := wire.DecodeResponse(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func mustDecodePtyRequest(t *testing.T, conn *transport.Conn) wire.PtyRequest {
	t.Helper()
	data, err := conn.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	req, err := wire.DecodePtyRequest(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return req
}
