package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomledger/dpl/pkg/types"
)

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new operation, with this process as initiator",
	RunE: func(cmd *cobra.Command, args []string) error {
		participantID, _ := cmd.Flags().GetString("participant-id")
		description, _ := cmd.Flags().GetString("description")

		l, err := newLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer l.Dispose()

		op, err := l.CreateOperation(participantID, currentPID(), description)
		if err != nil {
			return err
		}
		printJSON(map[string]any{
			"operationId": op.OperationID(),
			"sessionId":   op.SessionID(),
			"isInitiator": true,
		})
		return nil
	},
}

var joinCmd = &cobra.Command{
	Use:   "join <operation-id>",
	Short: "Join an existing operation as a new participant session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		participantID, _ := cmd.Flags().GetString("participant-id")

		l, err := newLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer l.Dispose()

		op, err := l.JoinOperation(args[0], participantID, currentPID())
		if err != nil {
			return err
		}
		printJSON(map[string]any{
			"operationId": op.OperationID(),
			"sessionId":   op.SessionID(),
			"isInitiator": false,
		})
		return nil
	},
}

// addAttachFlags installs the --operation-id/--session-id/--initiator
// flags shared by every subcommand that re-attaches to a session a prior
// create/join printed, rather than minting a new one.
func addAttachFlags(cmd *cobra.Command) {
	cmd.Flags().String("operation-id", "", "operation id to act on (required)")
	cmd.Flags().Int("session-id", 0, "session id this process holds on the operation (required)")
	cmd.Flags().Bool("initiator", false, "set if this session is the operation's initiator")
	_ = cmd.MarkFlagRequired("operation-id")
	_ = cmd.MarkFlagRequired("session-id")
}

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Drive one heartbeat tick for a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		opID, _ := cmd.Flags().GetString("operation-id")
		sessionID, _ := cmd.Flags().GetInt("session-id")
		participantID, _ := cmd.Flags().GetString("participant-id")
		isInitiator, _ := cmd.Flags().GetBool("initiator")

		l, err := newLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer l.Dispose()

		op := l.Attach(opID, participantID, currentPID(), sessionID, isInitiator)
		result, err := op.Tick(cmd.Context())
		if err != nil {
			return err
		}
		printJSON(result)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <operation-id>",
	Short: "Print an operation's current record snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer l.Dispose()

		rec, err := l.Store().Read(args[0])
		if err != nil {
			return err
		}
		printJSON(rec)
		return nil
	},
}

var logCmd = &cobra.Command{
	Use:   "log <operation-id> <message>",
	Short: "Append a line to an operation's human log",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("level")

		l, err := newLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer l.Dispose()

		return l.Store().AppendLog(args[0], args[1], types.LogLevel(level))
	},
}

var leaveCmd = &cobra.Command{
	Use:   "leave",
	Short: "Leave a session, optionally cancelling its pending calls",
	RunE: func(cmd *cobra.Command, args []string) error {
		opID, _ := cmd.Flags().GetString("operation-id")
		sessionID, _ := cmd.Flags().GetInt("session-id")
		participantID, _ := cmd.Flags().GetString("participant-id")
		isInitiator, _ := cmd.Flags().GetBool("initiator")
		cancel, _ := cmd.Flags().GetBool("cancel-pending-calls")

		l, err := newLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer l.Dispose()

		op := l.Attach(opID, participantID, currentPID(), sessionID, isInitiator)
		return op.Leave(cancel)
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete",
	Short: "Complete the operation (initiator only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		opID, _ := cmd.Flags().GetString("operation-id")
		sessionID, _ := cmd.Flags().GetInt("session-id")
		participantID, _ := cmd.Flags().GetString("participant-id")

		l, err := newLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer l.Dispose()

		op := l.Attach(opID, participantID, currentPID(), sessionID, true)
		return op.Complete()
	},
}

var abortCmd = &cobra.Command{
	Use:   "abort <operation-id>",
	Short: "Set or clear an operation's cooperative abort flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, _ := cmd.Flags().GetBool("value")

		l, err := newLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer l.Dispose()

		_, err = l.Store().Modify(args[0], func(rec *types.OperationRecord) (*types.OperationRecord, error) {
			rec.Aborted = value
			return rec, nil
		})
		return err
	},
}

func init() {
	createCmd.Flags().String("participant-id", "", "this process's participant id (required)")
	createCmd.Flags().String("description", "", "human-readable operation description")
	_ = createCmd.MarkFlagRequired("participant-id")

	joinCmd.Flags().String("participant-id", "", "this process's participant id (required)")
	_ = joinCmd.MarkFlagRequired("participant-id")

	addAttachFlags(heartbeatCmd)
	heartbeatCmd.Flags().String("participant-id", "", "this process's participant id (required)")
	_ = heartbeatCmd.MarkFlagRequired("participant-id")

	addAttachFlags(leaveCmd)
	leaveCmd.Flags().String("participant-id", "", "this process's participant id (required)")
	leaveCmd.Flags().Bool("cancel-pending-calls", false, "cancel any open calls instead of failing")
	_ = leaveCmd.MarkFlagRequired("participant-id")

	addAttachFlags(completeCmd)
	completeCmd.Flags().String("participant-id", "", "this process's participant id (required)")
	_ = completeCmd.MarkFlagRequired("participant-id")

	logCmd.Flags().String("level", "info", "log level: debug, info, warn, error")

	abortCmd.Flags().Bool("value", true, "abort flag value to set")
}
