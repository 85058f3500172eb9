package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomledger/dpl/pkg/health"
)

// probeCmd runs a one-shot liveness check of the kind an external
// process-supervisor would run before deciding whether to register a
// supervised call frame's crash with pkg/supervisorcb — a companion to
// `dpl status`, which only reports what the ledger already believes.
var probeCmd = &cobra.Command{
	Use:   "probe <target>",
	Short: "Run a single HTTP, TCP, or exec liveness check",
	Long: `probe performs one liveness check against target and prints its
result as JSON. It does not touch the ledger store; it is the same kind of
check a supervising participant would run out-of-band before trusting (or
distrusting) a supervised process's heartbeat.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		probeType, _ := cmd.Flags().GetString("type")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		checker, err := buildChecker(probeType, args[0], timeout)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout+time.Second)
		defer cancel()

		result := checker.Check(ctx)
		printJSON(map[string]any{
			"type":       string(checker.Type()),
			"target":     args[0],
			"healthy":    result.Healthy,
			"message":    result.Message,
			"checkedAt":  result.CheckedAt,
			"durationMs": result.Duration.Milliseconds(),
		})
		if !result.Healthy {
			return fmt.Errorf("probe: %s unhealthy: %s", args[0], result.Message)
		}
		return nil
	},
}

func buildChecker(probeType, target string, timeout time.Duration) (health.Checker, error) {
	switch strings.ToLower(probeType) {
	case "http", "https":
		return health.NewHTTPChecker(target).WithTimeout(timeout), nil
	case "tcp":
		return health.NewTCPChecker(target).WithTimeout(timeout), nil
	case "exec":
		return health.NewExecChecker(strings.Fields(target)).WithTimeout(timeout), nil
	default:
		return nil, fmt.Errorf("probe: unknown type %q, want http, tcp, or exec", probeType)
	}
}

func init() {
	probeCmd.Flags().String("type", "http", "probe type: http, tcp, or exec")
	probeCmd.Flags().Duration("timeout", 5*time.Second, "probe timeout")
}
