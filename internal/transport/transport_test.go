package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestListener(t *testing.T, token string) (*Listener, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tab.sock")
	ln, err := Listen(path, token)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln, path
}

func TestDialCliRoundTrip(t *testing.T) {
	ln, path := newTestListener(t, "secret")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	accepted := make(chan Accepted, 1)
	go ln.Serve(ctx, func(a Accepted) { accepted <- a })

	client, err := DialCli(DialConfig{SocketPath: path, Token: "secret"})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	var server Accepted
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server-side accept")
	}
	if server.Kind != KindCli {
		t.Fatalf("expected KindCli, got %v", server.Kind)
	}

	if err := client.Send([]byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := server.Conn.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}
}

func TestDialWithWrongTokenFails(t *testing.T) {
	ln, path := newTestListener(t, "secret")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ln.Serve(ctx, func(Accepted) {})

	if _, err := DialPty(DialConfig{SocketPath: path, Token: "wrong"}); err == nil {
		t.Fatal("expected dial with wrong token to fail")
	}
}

func TestListenRemovesStaleSocket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tab.sock")
	if err := os.WriteFile(path, []byte("stale"), 0o600); err != nil {
		t.Fatalf("write stale file: %v", err)
	}
	ln, err := Listen(path, "secret")
	if err != nil {
		t.Fatalf("listen over stale socket file: %v", err)
	}
	defer ln.Close()
}
