// Command tab is the interactive client (the "command" role): it
// resolves a tab name to an id (creating the tab if needed), subscribes,
// puts the owned terminal into raw mode, and relays stdin/stdout/resize
// until the daemon disconnects it or the tab terminates. Flag parsing
// uses the standard library's flag package, matching spec.md's scoping
// of full CLI-argument-parsing/shell-completion-install work as an
// external concern — this is deliberately the thinnest layer that can
// drive C9's state machine, not a general-purpose CLI framework (see
// DESIGN.md).
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/tabmux/tab/internal/ptyhelper"
	"github.com/tabmux/tab/internal/rundir"
	"github.com/tabmux/tab/internal/tabid"
	"github.com/tabmux/tab/internal/tabstate"
	"github.com/tabmux/tab/internal/transport"
	"github.com/tabmux/tab/internal/wire"
)

// retaskSettleDelay is how long the outer client is given to observe and
// act on a Retask broadcast before this process exits. It's a pragmatic
// cushion rather than an explicit ack (see DESIGN.md).
const retaskSettleDelay = 250 * time.Millisecond

// terminatedDrainDelay is the pause before exiting once the selected tab
// has terminated, giving any already-in-flight output a chance to land.
const terminatedDrainDelay = 25 * time.Millisecond

func main() {
	var (
		list              = flag.Bool("l", false, "list tabs")
		listLong          = flag.Bool("list", false, "list tabs")
		closeFlag         = flag.Bool("w", false, "close the given tabs")
		closeLong         = flag.Bool("close", false, "close the given tabs")
		disconnect        = flag.Bool("disconnect", false, "disconnect the given tabs without closing them")
		shutdown          = flag.Bool("W", false, "shut down the daemon")
		shutdownLong      = flag.Bool("shutdown", false, "shut down the daemon")
		autocompleteTab   = flag.Bool("_autocomplete_tab", false, "internal: print tab names for completion")
		autocompleteClose = flag.Bool("_autocomplete_close_tab", false, "internal: print tab names for completion")
		completion        = flag.String("completion", "", "completion script for the named shell (stubbed: prints nothing)")
	)
	flag.Parse()
	args := flag.Args()

	dir, err := rundir.Dir()
	if err != nil {
		fatal(err)
	}
	daemon, err := rundir.ReadDaemonFile(dir)
	if err != nil || !rundir.IsAlive(daemon) {
		fatal(fmt.Errorf("no daemon running (run tabd first): %w", err))
	}

	conn, err := transport.DialCli(transport.DialConfig{SocketPath: daemon.SocketPath, Token: daemon.AuthToken})
	if err != nil {
		fatal(fmt.Errorf("connect to daemon: %w", err))
	}
	defer conn.Close()

	state := tabstate.New()
	init, err := recvInit(conn)
	if err != nil {
		fatal(err)
	}
	state.ApplyInit(init.Tabs)

	switch {
	case *completion != "":
		// Shell-completion script install is explicitly out of scope;
		// printing nothing (rather than fabricating a script) keeps this
		// flag from silently lying about what it does.
		os.Exit(0)
	case *autocompleteTab:
		printNames(state)
		return
	case *autocompleteClose:
		printNames(state)
		return
	case *shutdown || *shutdownLong:
		send(conn, wire.GlobalShutdownRequest{})
		return
	case *list || *listLong:
		printList(state)
		return
	case *closeFlag || *closeLong:
		for _, name := range args {
			send(conn, wire.CloseNamedTabRequest{Name: name})
		}
		return
	case *disconnect:
		for _, name := range args {
			if meta, ok := state.Lookup(name); ok {
				send(conn, wire.DisconnectTabRequest{TabID: meta.ID})
			}
		}
		return
	}

	name := "main"
	if len(args) > 0 {
		name = args[0]
	}

	// A shell running inside an existing tab has TAB_ID set in its
	// environment. A `tab <name>` invoked from there must not attach a
	// second terminal to the daemon recursively; instead it asks the
	// *outer* client (the one actually holding the user's real terminal)
	// to retask onto the requested tab, then exits.
	if envID, ok := currentEnvTabID(); ok {
		retaskCurrentClient(conn, state, envID, name)
		return
	}
	attach(conn, state, name)
}

// currentEnvTabID reports the tab id this process is running inside, if
// any, by reading the TAB_ID environment variable a tab's shell always
// has set.
func currentEnvTabID() (tabid.ID, bool) {
	raw := os.Getenv("TAB_ID")
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, false
	}
	return tabid.ID(n), true
}

// retaskCurrentClient ensures the target tab exists, then asks the
// daemon to retask the outer client's subscription from envID onto it.
// It waits retaskSettleDelay before returning so the broadcast has time
// to reach and be acted on by every command subscribed to envID before
// this short-lived process exits.
func retaskCurrentClient(conn *transport.Conn, state *tabstate.State, envID tabid.ID, name string) {
	meta, ok := state.Lookup(name)
	if !ok {
		cols, rows := currentSize()
		send(conn, wire.CreateTabRequest{Meta: wire.CreateTabMetadata{
			Name:       name,
			WorkingDir: cwd(),
			Shell:      os.Getenv("SHELL"),
			Dimensions: wire.Dimensions{Cols: cols, Rows: rows},
		}})
		meta, ok = waitForTabUpdate(conn, state, name)
		if !ok {
			fatal(fmt.Errorf("tab %q was not created", name))
		}
	}
	send(conn, wire.RetaskRequest{TabID: envID, Target: wire.ToTab(meta.ID)})
	time.Sleep(retaskSettleDelay)
}

func attach(conn *transport.Conn, state *tabstate.State, name string) {
	meta, ok := state.Lookup(name)
	if !ok {
		cols, rows := currentSize()
		send(conn, wire.CreateTabRequest{Meta: wire.CreateTabMetadata{
			Name:       name,
			WorkingDir: cwd(),
			Shell:      os.Getenv("SHELL"),
			Env:        map[string]string{"TAB": name},
			Dimensions: wire.Dimensions{Cols: cols, Rows: rows},
		}})
		meta, ok = waitForTabUpdate(conn, state, name)
		if !ok {
			fatal(fmt.Errorf("tab %q was not created", name))
		}
	}

	state.BeginAwaitingID(meta.ID)
	send(conn, wire.SubscribeRequest{TabID: meta.ID})

	// Raw mode disables local signal generation (ISIG), so a keystroke
	// like Ctrl-C is forwarded to the remote shell as ordinary input
	// instead of killing this process — the daemon side of the
	// connection is what decides when to disconnect us.
	oldState, raw := enterRawMode()
	defer exitRawMode(oldState)

	stopWinch := watchResize(conn, state)
	defer stopWinch()

	if raw {
		go relayStdin(conn, state)
	}

	relayOutput(conn, state)
}

func relayStdin(conn *transport.Conn, state *tabstate.State) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			send(conn, wire.InputRequest{TabID: state.Current(), Chunk: wire.InputChunk{Data: append([]byte(nil), buf[:n]...)}})
		}
		if err != nil {
			return
		}
	}
}

func relayOutput(conn *transport.Conn, state *tabstate.State) {
	for {
		data, err := conn.Recv()
		if err != nil {
			return
		}
		resp, err := wire.DecodeResponse(data)
		if err != nil {
			continue
		}
		switch r := resp.(type) {
		case wire.ScrollbackResponse:
			for _, chunk := range r.Chunks {
				os.Stdout.Write(chunk.Data)
			}
			state.CompleteSelection(r.TabID)
		case wire.OutputResponse:
			os.Stdout.Write(r.Chunk.Data)
		case wire.TabUpdateResponse:
			state.ApplyTabUpdate(r.Meta)
		case wire.TabTerminatedResponse:
			state.ApplyTabTerminated(r.TabID)
			if state.Phase() == tabstate.PhaseTerminated {
				// A short drain delay lets any output already in flight
				// reach the terminal before this process exits.
				time.Sleep(terminatedDrainDelay)
				return
			}
		case wire.RetaskResponse:
			state.ApplyRetask(r)
			if state.Phase() == tabstate.PhaseNone {
				return
			}
			send(conn, wire.SubscribeRequest{TabID: state.Current()})
		case wire.DisconnectResponse:
			return
		}
	}
}

func waitForTabUpdate(conn *transport.Conn, state *tabstate.State, name string) (wire.TabMetadata, bool) {
	state.BeginAwaitingName()
	for i := 0; i < 100; i++ {
		data, err := conn.Recv()
		if err != nil {
			return wire.TabMetadata{}, false
		}
		resp, err := wire.DecodeResponse(data)
		if err != nil {
			continue
		}
		if upd, ok := resp.(wire.TabUpdateResponse); ok {
			state.ApplyTabUpdate(upd.Meta)
			if wire.NormalizeName(upd.Meta.Name) == wire.NormalizeName(name) {
				return upd.Meta, true
			}
		}
	}
	return wire.TabMetadata{}, false
}

func recvInit(conn *transport.Conn) (wire.InitResponse, error) {
	data, err := conn.Recv()
	if err != nil {
		return wire.InitResponse{}, err
	}
	resp, err := wire.DecodeResponse(data)
	if err != nil {
		return wire.InitResponse{}, err
	}
	init, ok := resp.(wire.InitResponse)
	if !ok {
		return wire.InitResponse{}, fmt.Errorf("expected init response, got %T", resp)
	}
	return init, nil
}

func printList(state *tabstate.State) {
	tabs := state.List()
	sort.Slice(tabs, func(i, j int) bool { return tabs[i].LastSelected.After(tabs[j].LastSelected) })
	for _, t := range tabs {
		fmt.Printf("%s\t%s\n", t.Name, t.Doc)
	}
}

func printNames(state *tabstate.State) {
	names := state.Names()
	sort.Strings(names)
	fmt.Println(strings.Join(names, "\n"))
}

func watchResize(conn *transport.Conn, state *tabstate.State) func() {
	return ptyhelper.WatchWinch(func(cols, rows uint16) {
		send(conn, wire.ResizeTabRequest{TabID: state.Current(), Dimensions: wire.Dimensions{Cols: cols, Rows: rows}})
	})
}

func currentSize() (cols, rows uint16) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80, 24
	}
	return uint16(w), uint16(h)
}

func enterRawMode() (*term.State, bool) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, false
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, false
	}
	return old, true
}

func exitRawMode(old *term.State) {
	if old != nil {
		_ = term.Restore(int(os.Stdin.Fd()), old)
	}
}

func send(conn *transport.Conn, r wire.Request) {
	data, err := wire.EncodeRequest(r)
	if err != nil {
		fatal(err)
	}
	_ = conn.Send(data)
}

func cwd() string {
	d, err := os.Getwd()
	if err != nil {
		return ""
	}
	return d
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "tab:", err)
	os.Exit(1)
}
