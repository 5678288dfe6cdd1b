// Command tabd is the daemon process: the singleton background broker
// that owns the local socket, the tab registry, and every tab's
// scrollback. It is grounded on the teacher's cmd/server/main.go (bind a
// listener, build a handler, log and exit on fatal startup errors), with
// the http.ListenAndServe call replaced by transport.Listener.Serve over
// a Unix-domain socket and an explicit supervisor loop driving the
// assignment board's retraction ticker and the runtime-directory
// watchdog.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/tabmux/tab/internal/broker"
	"github.com/tabmux/tab/internal/cliconn"
	"github.com/tabmux/tab/internal/ptyconn"
	"github.com/tabmux/tab/internal/rundir"
	"github.com/tabmux/tab/internal/supervisor"
	"github.com/tabmux/tab/internal/tabid"
	"github.com/tabmux/tab/internal/transport"
	"github.com/tabmux/tab/internal/wire"
)

// version is stamped into daemon-pid.yml so a command connecting to an
// old, still-running daemon can notice a mismatch. There is no build-time
// injection here (the ambient stack has no build-info step of its own),
// so this is simply bumped by hand alongside protocol changes.
const version = "0.1.0"

// shutdownDrain is how long the daemon waits after telling every pty to
// terminate before it closes its own listener, giving well-behaved
// helpers a chance to exit cleanly rather than being cut off mid-write.
const shutdownDrain = 50 * time.Millisecond

func main() {
	foreground := flag.Bool("foreground", false, "accepted and ignored: tabd never detaches and always runs in the foreground")
	flag.Parse()
	_ = foreground // daemonizing/detaching from the caller is out of scope; tabd always runs in the foreground of whatever process started it.

	dir, err := rundir.Ensure()
	if err != nil {
		log.Fatalf("tabd: %v", err)
	}

	if existing, err := rundir.ReadDaemonFile(dir); err == nil && rundir.IsAlive(existing) {
		log.Fatalf("tabd: a daemon is already running (pid %d)", existing.Pid)
	}

	logFile, err := rundir.OpenLogFile(dir)
	if err != nil {
		log.Fatalf("tabd: %v", err)
	}
	defer logFile.Close()
	log.SetOutput(logFile)
	log.SetFlags(log.LstdFlags)

	token, err := rundir.GenerateToken()
	if err != nil {
		log.Fatalf("tabd: %v", err)
	}

	socketPath := rundir.SocketPath(dir)
	listener, err := transport.Listen(socketPath, token)
	if err != nil {
		log.Fatalf("tabd: %v", err)
	}

	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	if err := rundir.WriteDaemonFile(dir, rundir.DaemonFile{
		Pid:        os.Getpid(),
		SocketPath: socketPath,
		AuthToken:  token,
		Version:    version,
		Executable: exe,
	}); err != nil {
		log.Fatalf("tabd: %v", err)
	}
	defer rundir.RemoveDaemonFile(dir)

	spawner := &ptySpawner{dir: dir, token: token}
	b := broker.New(spawner)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	super := supervisor.New(b.Board(), dir, stop)
	go super.Run(ctx)

	// A GlobalShutdown request arrives on some command's cliconn goroutine
	// and calls straight into the broker; the hook bounces that into the
	// supervisor so the daemon process actually exits afterward, with the
	// same drain window an explicit shutdown on signal gets below.
	b.SetShutdownHook(func() {
		go super.Shutdown(shutdownDrain, nil)
	})

	log.Printf("tabd: listening on %s", socketPath)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- listener.Serve(ctx, func(a transport.Accepted) {
			go handleAccepted(ctx, a, b)
		})
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Printf("tabd: serve: %v", err)
		}
	}

	log.Printf("tabd: shutting down")
	b.GlobalShutdown()
	time.Sleep(shutdownDrain)
	_ = listener.Close()
	<-serveErr
}

func handleAccepted(ctx context.Context, a transport.Accepted, b *broker.Broker) {
	switch a.Kind {
	case transport.KindCli:
		cliconn.New(a.Conn, b).Run(ctx)
	case transport.KindPty:
		ptyconn.New(a.Conn, b).Run(ctx)
	default:
		log.Printf("tabd: unknown connection kind %d", a.Kind)
		_ = a.Conn.Close()
	}
}

// ptySpawner implements broker.Spawner by launching a detached tab-pty
// child process for a tab with no taker. It is a thin os/exec wrapper:
// the daemon never manages the child's lifetime directly, only its
// assignment offer — the child either connects and wins the race or it
// doesn't, and the offer keeps being rebroadcast either way.
type ptySpawner struct {
	dir   string
	token string
}

func (p *ptySpawner) Spawn(id tabid.ID, meta wire.TabMetadata) {
	exe, err := os.Executable()
	if err != nil {
		log.Printf("tabd: spawn %s: resolve executable: %v", id, err)
		return
	}
	helper := exe + "-pty"
	if _, statErr := os.Stat(helper); statErr != nil {
		helper = "tab-pty"
	}
	cmd := exec.Command(helper, "--tab-id", fmt.Sprint(uint16(id)))
	cmd.Env = append(os.Environ(),
		"TAB_RUNTIME_DIR="+p.dir,
		"TAB_AUTH_TOKEN="+p.token,
	)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
	if err := cmd.Start(); err != nil {
		log.Printf("tabd: spawn pty helper for %s: %v", id, err)
		return
	}
	go cmd.Wait()
}
