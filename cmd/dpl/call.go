package main

import (
	"github.com/spf13/cobra"

	"github.com/tomledger/dpl/pkg/operation"
)

var callStartCmd = &cobra.Command{
	Use:   "call-start",
	Short: "Push a call frame onto an operation's session",
	RunE: func(cmd *cobra.Command, args []string) error {
		opID, _ := cmd.Flags().GetString("operation-id")
		sessionID, _ := cmd.Flags().GetInt("session-id")
		participantID, _ := cmd.Flags().GetString("participant-id")
		isInitiator, _ := cmd.Flags().GetBool("initiator")
		description, _ := cmd.Flags().GetString("description")

		l, err := newLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer l.Dispose()

		op := l.Attach(opID, participantID, currentPID(), sessionID, isInitiator)
		callID := operation.NewCallID()
		if err := op.CreateCallFrame(callID, description, "", ""); err != nil {
			return err
		}
		printJSON(map[string]any{"callId": callID})
		return nil
	},
}

var callEndCmd = &cobra.Command{
	Use:   "call-end <call-id>",
	Short: "Pop a call frame, marking it complete",
	Args:  cobra.ExactArgs(1),
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
		return op.DeleteCallFrame(args[0])
	},
}

var callFailCmd = &cobra.Command{
	Use:   "call-fail <call-id>",
	Short: "Pop a call frame, marking it failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opID, _ := cmd.Flags().GetString("operation-id")
		sessionID, _ := cmd.Flags().GetInt("session-id")
		participantID, _ := cmd.Flags().GetString("participant-id")
		isInitiator, _ := cmd.Flags().GetBool("initiator")
		reason, _ := cmd.Flags().GetString("reason")
		failOnCrash, _ := cmd.Flags().GetBool("fail-on-crash")

		l, err := newLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer l.Dispose()

		op := l.Attach(opID, participantID, currentPID(), sessionID, isInitiator)
		return op.FailCallFrame(args[0], reason, failOnCrash)
	},
}

func init() {
	addAttachFlags(callStartCmd)
	callStartCmd.Flags().String("participant-id", "", "this process's participant id (required)")
	callStartCmd.Flags().String("description", "", "human-readable call description")
	_ = callStartCmd.MarkFlagRequired("participant-id")

	addAttachFlags(callEndCmd)
	callEndCmd.Flags().String("participant-id", "", "this process's participant id (required)")
	_ = callEndCmd.MarkFlagRequired("participant-id")

	addAttachFlags(callFailCmd)
	callFailCmd.Flags().String("participant-id", "", "this process's participant id (required)")
	callFailCmd.Flags().String("reason", "call failed", "failure reason recorded in the log")
	callFailCmd.Flags().Bool("fail-on-crash", true, "propagate failure to the whole operation")
	_ = callFailCmd.MarkFlagRequired("participant-id")
}
