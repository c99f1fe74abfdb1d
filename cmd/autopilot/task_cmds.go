package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quailyquaily/autopilot/approval"
	"github.com/quailyquaily/autopilot/engine"
	"github.com/quailyquaily/autopilot/internal/clifmt"
	"github.com/quailyquaily/autopilot/task"
	"github.com/spf13/cobra"
)

var (
	submitMode     string
	submitPriority string
	submitTitle    string
	submitWait     bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <intent text>",
	Short: "Classify an intent, compile a plan, and create a ready task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}

		mode, ok := approval.ParseMode(submitMode)
		if !ok {
			return fmt.Errorf("unknown execution mode %q (autonomous, supervised, manual)", submitMode)
		}
		priority, _ := task.ParsePriority(submitPriority)

		t, err := a.engine.SubmitIntent(ctx, strings.Join(args, " "), engine.SubmitOptions{
			Title:    submitTitle,
			Mode:     mode,
			Priority: priority,
		})
		if err != nil {
			return err
		}

		fmt.Println(clifmt.Headerf("Task %s", t.ID))
		fmt.Printf("%s %s\n", clifmt.Key("title:"), t.Title)
		fmt.Printf("%s %s\n", clifmt.Key("mode:"), string(t.Mode))
		fmt.Printf("%s %s\n", clifmt.Key("plan:"), t.PlanID)
		fmt.Printf("%s %d\n", clifmt.Key("steps:"), t.TotalSteps)

		if submitWait {
			return runInline(ctx, a, t.ID)
		}
		fmt.Println(clifmt.Dim("queued; run the daemon to execute"))
		return nil
	},
}

// runInline drives the task with an in-process worker for one-shot CLI use,
// surfacing any approval it yields on.
func runInline(ctx context.Context, a *app, taskID string) error {
	for {
		claimed, ok, err := a.tasks.Claim(ctx, "worker_cli")
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := a.exec.Run(ctx, claimed, "worker_cli"); err != nil {
			return err
		}
		if claimed.ID == taskID {
			break
		}
	}

	t, ok, err := a.tasks.Get(ctx, taskID)
	if err != nil || !ok {
		return fmt.Errorf("reload task %s: %w", taskID, err)
	}
	switch t.Status {
	case task.StatusCompleted:
		fmt.Println(clifmt.Success(fmt.Sprintf("completed %d/%d steps", t.CurrentStep, t.TotalSteps)))
	case task.StatusWaitingApproval:
		fmt.Println(clifmt.Warn("waiting for approval"))
		if rec, ok, _ := a.gate.Store.OpenForStep(ctx, t.ID, t.CurrentStep); ok {
			fmt.Printf("%s %s\n", clifmt.Key("approval:"), rec.ID)
			fmt.Printf("%s %s (%s)\n", clifmt.Key("action:"), rec.ActionSummary, string(rec.Risk))
			fmt.Println(clifmt.Dim(fmt.Sprintf("approve with: autopilot approve %s", rec.ID)))
		}
	case task.StatusFailed:
		fmt.Println(clifmt.Warn("failed: " + t.LastError))
	default:
		fmt.Printf("%s %s\n", clifmt.Key("status:"), string(t.Status))
	}
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show a task's progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		st, err := a.engine.GetTaskStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(clifmt.Headerf("Task %s", st.TaskID))
		fmt.Printf("%s %s\n", clifmt.Key("status:"), st.Status)
		fmt.Printf("%s %d/%d (%.0f%%)\n", clifmt.Key("steps:"), st.CurrentStep, st.TotalSteps, st.Progress*100)
		if st.LastError != "" {
			fmt.Printf("%s %s\n", clifmt.Key("error:"), st.LastError)
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Request cooperative cancellation of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.engine.CancelTask(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println(clifmt.Success("cancellation requested"))
		return nil
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview <intent text>",
	Short: "Compile and simulate a plan without creating a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		p, err := a.engine.PreviewPlan(cmd.Context(), strings.Join(args, " "), nil)
		if err != nil {
			return err
		}
		fmt.Println(clifmt.Headerf("Plan %s (%s, risk %s)", p.ID, string(p.IntentType), string(p.Risk)))
		for _, step := range p.Steps {
			params, _ := json.Marshal(step.Params)
			fmt.Printf("  %2d. %s %s %s\n", step.Index, step.Action, clifmt.Dim(string(params)), riskTag(string(step.Risk)))
		}
		if p.Simulation != nil {
			for _, sim := range p.Simulation.Steps {
				fmt.Println(clifmt.Dim("sim: " + sim.Summary))
			}
		}
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit <task-id>",
	Short: "Print a task's safety audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		entries, err := a.engine.ListAuditEntries(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s  %-22s %-8s %s\n",
				e.CreatedAt.Format("2006-01-02 15:04:05"),
				e.ActionType,
				string(e.Outcome),
				riskTag(string(e.RiskLevel)),
			)
		}
		if len(entries) == 0 {
			fmt.Println(clifmt.Dim("no audit entries"))
		}
		return nil
	},
}

func riskTag(risk string) string {
	switch risk {
	case "high", "critical":
		return clifmt.Warn("[" + risk + "]")
	case "":
		return ""
	default:
		return clifmt.Dim("[" + risk + "]")
	}
}

func init() {
	submitCmd.Flags().StringVar(&submitMode, "mode", "supervised", "execution mode: autonomous, supervised, manual")
	submitCmd.Flags().StringVar(&submitPriority, "priority", "normal", "priority: low, normal, high, urgent")
	submitCmd.Flags().StringVar(&submitTitle, "title", "", "task title (defaults to the intent text)")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "execute inline instead of queueing for the daemon")
}
