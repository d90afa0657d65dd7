package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/castguard/castguard/internal/control/client"
	"github.com/castguard/castguard/internal/ui/tui"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app carries the settings shared by every subcommand.
type app struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: viper.New(), stdout: stdout, stderr: stderr}
	a.v.SetEnvPrefix("CASTCTL")
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "castctl",
		Short:         "Inspect and manage a running castguard daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().String("socket", "", "path to castguard control socket (env CASTCTL_SOCKET)")
	root.PersistentFlags().Duration("timeout", 3*time.Second, "control request timeout")
	root.PersistentFlags().Bool("json", false, "print raw JSON")
	a.v.BindPFlag("socket", root.PersistentFlags().Lookup("socket"))
	a.v.BindPFlag("timeout", root.PersistentFlags().Lookup("timeout"))
	a.v.BindPFlag("json", root.PersistentFlags().Lookup("json"))

	root.AddCommand(
		a.statusCmd(),
		a.historyCmd(),
		a.rulesCmd(),
		a.triggersCmd(),
		a.reloadCmd(),
		a.metricsCmd(),
		a.watchCmd(),
		a.checkCmd(),
	)
	return root
}

func (a *app) client() (*client.Client, error) {
	cli, err := client.New(a.v.GetString("socket"))
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return cli, nil
}

func (a *app) context(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if timeout := a.v.GetDuration("timeout"); timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}

// call runs fn with a connected client under the request timeout.
func (a *app) call(cmd *cobra.Command, fn func(ctx context.Context, cli *client.Client) error) error {
	cli, err := a.client()
	if err != nil {
		return err
	}
	ctx, cancel := a.context(cmd.Context())
	defer cancel()
	return fn(ctx, cli)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the engine state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.call(cmd, func(ctx context.Context, cli *client.Client) error {
				status, err := cli.Status(ctx)
				if err != nil {
					return err
				}
				if a.v.GetBool("json") {
					return a.printJSON(status)
				}
				printStatus(a.stdout, status)
				return nil
			})
		},
	}
}

func printStatus(w io.Writer, status client.Status) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "running\t%v\n", status.Running)
	ctxName := status.Context
	if ctxName == "" {
		ctxName = "-"
		if status.ContextError != "" {
			ctxName += " (" + status.ContextError + ")"
		}
	}
	fmt.Fprintf(tw, "context\t%s\n", ctxName)
	if status.GuardEnabled {
		fmt.Fprintf(tw, "guard\thold %s\n", status.GuardKey)
	} else {
		fmt.Fprintf(tw, "guard\tdisabled\n")
	}
	fmt.Fprintf(tw, "keys\tctrl=%v shift=%v\n", status.Ctrl, status.Shift)
	switch {
	case !status.Windowing:
		fmt.Fprintf(tw, "window\toff\n")
	case status.Armed:
		fmt.Fprintf(tw, "window\tarmed (%ds left)\n", status.Remaining)
	default:
		fmt.Fprintf(tw, "window\tidle\n")
	}
	tw.Flush()
}

func (a *app) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent decisions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.call(cmd, func(ctx context.Context, cli *client.Client) error {
				records, err := cli.History(ctx)
				if err != nil {
					return err
				}
				if limit > 0 && len(records) > limit {
					records = records[len(records)-limit:]
				}
				if a.v.GetBool("json") {
					return a.printJSON(records)
				}
				if len(records) == 0 {
					fmt.Fprintln(a.stdout, "No decisions recorded")
					return nil
				}
				tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tCHANNEL\tLABEL\tDECISION\tREASON")
				for i := len(records) - 1; i >= 0; i-- {
					rec := records[i]
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", rec.Timestamp.Format(time.RFC3339), rec.Channel, rec.Label, rec.Verdict.Decision, rec.Verdict.Reason)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of decisions to show (0 for all)")
	return cmd
}

func (a *app) reloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Trigger a live config reload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.call(cmd, func(ctx context.Context, cli *client.Client) error {
				if err := cli.Reload(ctx); err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, "Reload requested")
				return nil
			})
		},
	}
}

func (a *app) metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show local decision counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.call(cmd, func(ctx context.Context, cli *client.Client) error {
				snapshot, err := cli.Metrics(ctx)
				if err != nil {
					return err
				}
				if a.v.GetBool("json") {
					return a.printJSON(snapshot)
				}
				if !snapshot.Enabled {
					fmt.Fprintln(a.stdout, "Telemetry disabled (set telemetry.enabled: true)")
					return nil
				}
				t := snapshot.Totals
				fmt.Fprintf(a.stdout, "evaluated=%d blocked=%d allowed=%d arms=%d\n", t.Evaluated, t.Blocked, t.Allowed, t.Arms)
				if len(snapshot.Actions) == 0 {
					return nil
				}
				tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "CONTEXT\tACTION\tEVALUATED\tBLOCKED\tALLOWED")
				for _, m := range snapshot.Actions {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", m.Context, m.Action, m.Evaluated, m.Blocked, m.Allowed)
				}
				return tw.Flush()
			})
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	var refresh time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard of the engine state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli, err := a.client()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			renderer := tui.New(cli, a.stdout)
			renderer.Refresh = refresh
			if err := renderer.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&refresh, "refresh", 500*time.Millisecond, "refresh interval")
	return cmd
}

func sortedContexts(rules map[string][]string) []string {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
