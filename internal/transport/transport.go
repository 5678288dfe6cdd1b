// Package transport implements the local stream socket (C1): a
// Unix-domain listener serving websocket upgrades on two paths, /cli and
// /pty, gated by a bearer token and an Origin check. It is grounded on
// the teacher's internal/ws.Router (an http.Handler performing a gorilla
// websocket upgrade per connection) and internal/auth.Middleware (bearer
// token comparison), adapted from a TCP+sessionId/ptyId-keyed router to a
// Unix socket with exactly two fixed endpoints and a single shared
// secret — the daemon has no multi-tenant routing to do, just "is this
// caller allowed to talk to me at all."
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrUnauthorized is returned by the upgrade handshake when the bearer
// token is missing or wrong.
var ErrUnauthorized = errors.New("transport: unauthorized")

// ErrForbiddenOrigin is returned when the handshake carries a non-empty
// Origin header. A local CLI or pty helper never sets one; anything that
// does is a browser that reached the socket some other way and is
// rejected outright, mirroring the original implementation's rejection of
// cross-origin websocket upgrades.
var ErrForbiddenOrigin = errors.New("transport: forbidden origin")

const (
	cliPath = "/cli"
	ptyPath = "/pty"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return r.Header.Get("Origin") == ""
	},
}

// Kind distinguishes which endpoint a connection came in on.
type Kind int

const (
	KindCli Kind = iota
	KindPty
)

// Accepted is one upgraded connection, handed to the caller's handler
// function for the duration of its lifetime.
type Accepted struct {
	Kind Kind
	Conn *Conn
}

// Listener serves the local socket: it accepts raw Unix connections,
// upgrades each to a websocket on /cli or /pty, verifies the bearer
// token, and hands the result to the handle function passed to Serve.
type Listener struct {
	ln    net.Listener
	token string

	mu     sync.Mutex
	closed bool
}

// Listen binds a Unix-domain socket at path. The socket file is removed
// first if a stale one exists (the caller is expected to have already
// confirmed no live daemon owns it, via internal/rundir).
func Listen(path, token string) (*Listener, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", path, err)
	}
	return &Listener{ln: ln, token: token}, nil
}

// Addr returns the socket path being served.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return l.ln.Close()
}

// Serve accepts connections until ctx is cancelled or Close is called,
// invoking handle for each successfully upgraded and authorized
// connection. handle is called synchronously from a new goroutine per
// connection and owns the connection's lifetime.
func (l *Listener) Serve(ctx context.Context, handle func(Accepted)) error {
	mux := http.NewServeMux()
	mux.HandleFunc(cliPath, l.upgradeHandler(KindCli, handle))
	mux.HandleFunc(ptyPath, l.upgradeHandler(KindPty, handle))

	srv := &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		_ = l.Close()
		_ = srv.Close()
	}()

	err := srv.Serve(l.ln)
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed && errors.Is(err, net.ErrClosed) {
		return nil
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (l *Listener) upgradeHandler(kind Kind, handle func(Accepted)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Origin") != "" {
			http.Error(w, ErrForbiddenOrigin.Error(), http.StatusForbidden)
			return
		}
		if !l.checkBearer(r) {
			http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
			return
		}
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handle(Accepted{Kind: kind, Conn: newConn(wsConn)})
	}
}

func (l *Listener) checkBearer(r *http.Request) bool {
	if l.token == "" {
		return false
	}
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return false
	}
	return auth[len(prefix):] == l.token
}

// DialConfig describes how a client connects to the local socket.
type DialConfig struct {
	SocketPath string
	Token      string
}

// dial connects to the daemon's socket and performs the websocket upgrade
// on the given path (cliPath or ptyPath, via DialCli/DialPty).
func dial(cfg DialConfig, path string) (*Conn, error) {
	dialer := websocket.Dialer{
		NetDial: func(_, _ string) (net.Conn, error) {
			return net.Dial("unix", cfg.SocketPath)
		},
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.Token)
	wsConn, _, err := dialer.Dial("ws://unix"+path, header)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", path, err)
	}
	return newConn(wsConn), nil
}

// DialCli connects as a command to the daemon's /cli endpoint.
func DialCli(cfg DialConfig) (*Conn, error) {
	return dial(cfg, cliPath)
}

// DialPty connects as a pty helper to the daemon's /pty endpoint.
func DialPty(cfg DialConfig) (*Conn, error) {
	return dial(cfg, ptyPath)
}
