// Command dpl is a thin CLI veneer over the Distributed Process Ledger
// core (pkg/ledger, pkg/operation, pkg/httpapi). Its flag surface is not
// part of SPEC_FULL.md's contract (§1) — it exists so the library has a
// real entry point, the way cmd/warren is a thin veneer over
// pkg/manager/pkg/worker in the teacher repo.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomledger/dpl/pkg/config"
	"github.com/tomledger/dpl/pkg/log"
)

var (
	// Version, Commit, BuildTime are set via -ldflags at release build
	// time, mirroring cmd/warren/main.go's version var block.
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var cfgFile string
var cfg config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dpl",
	Short: "Distributed Process Ledger CLI",
	Long: `dpl drives the Distributed Process Ledger's operation/session/call
protocol from the command line: create or join an operation, push and pop
call frames, heartbeat, and run the optional HTTP veneer server.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("dpl version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to dpl.yaml (default ~/.tom/dpl.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")
	rootCmd.PersistentFlags().String("base-dir", "", "ledger store base directory (overrides config)")

	cobra.OnInitialize(initConfigAndLogging)

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(heartbeatCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(leaveCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(abortCmd)
	rootCmd.AddCommand(callStartCmd)
	rootCmd.AddCommand(callEndCmd)
	rootCmd.AddCommand(callFailCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(probeCmd)
}

func initConfigAndLogging() {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dpl: %v\n", err)
		os.Exit(1)
	}
	cfg = loaded

	if baseDir, _ := rootCmd.PersistentFlags().GetString("base-dir"); baseDir != "" {
		cfg.Store.BasePath = baseDir
	}

	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}
