// Command dpl-top is a live monitor for one Distributed Process Ledger
// operation: it polls the Store on an interval and renders the call-frame
// stack, participant staleness, and a tail of the human log, in the style
// of pithecene-io-quarry's cli/tui view router repurposed from inspecting
// a sandboxed run to watching a ledger operation (SPEC_FULL.md §6).
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tomledger/dpl/pkg/config"
	"github.com/tomledger/dpl/pkg/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to dpl.yaml (default: ~/.tom/dpl.yaml)")
		baseDir    = flag.String("base-dir", "", "override the store's base directory")
		interval   = flag.Duration("interval", 2*time.Second, "poll interval")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: dpl-top [flags] <operation-id>\n\nflags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	opID := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dpl-top:", err)
		os.Exit(1)
	}
	if *baseDir != "" {
		cfg.Store.BasePath = *baseDir
	}

	st, err := store.New(store.Config{
		BaseDir:             cfg.Store.BasePath,
		LockAcquireDeadline: cfg.Store.LockAcquireDeadline,
		LockRetryInterval:   cfg.Store.LockRetryInterval,
		StaleLockThreshold:  cfg.Store.StaleLockThreshold,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "dpl-top:", err)
		os.Exit(1)
	}

	m := newModel(st, opID, *interval, cfg.Heartbeat.StalenessThreshold)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "dpl-top:", err)
		os.Exit(1)
	}
}
