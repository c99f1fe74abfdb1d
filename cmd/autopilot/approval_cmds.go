package main

import (
	"fmt"

	"github.com/quailyquaily/autopilot/internal/clifmt"
	"github.com/spf13/cobra"
)

var (
	resolveBy     string
	resolveReason string
)

var approveCmd = &cobra.Command{
	Use:   "approve <approval-id>",
	Short: "Approve a pending gate and requeue its task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.engine.ResolveApproval(cmd.Context(), args[0], true, resolveBy, resolveReason); err != nil {
			return err
		}
		fmt.Println(clifmt.Success("approved"))
		return nil
	},
}

var denyCmd = &cobra.Command{
	Use:   "deny <approval-id>",
	Short: "Reject a pending gate and fail its task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.engine.ResolveApproval(cmd.Context(), args[0], false, resolveBy, resolveReason); err != nil {
			return err
		}
		fmt.Println(clifmt.Warn("rejected"))
		return nil
	},
}

var decideCmd = &cobra.Command{
	Use:   "decide <decision-id> <option>",
	Short: "Choose an option on a pending decision and requeue its task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.engine.ResolveDecision(cmd.Context(), args[0], args[1], resolveBy, resolveReason); err != nil {
			return err
		}
		fmt.Println(clifmt.Success("decision recorded: " + args[1]))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{approveCmd, denyCmd, decideCmd} {
		c.Flags().StringVar(&resolveBy, "by", "cli", "identity recorded as the decider")
		c.Flags().StringVar(&resolveReason, "reason", "", "reason recorded with the resolution")
	}
}
