package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/castguard/castguard/internal/control/client"
)

func (a *app) rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage blocked actions per context",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List blocked actions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.call(cmd, func(ctx context.Context, cli *client.Client) error {
					rules, err := cli.Rules(ctx)
					if err != nil {
						return err
					}
					if a.v.GetBool("json") {
						return a.printJSON(rules)
					}
					tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "CONTEXT\tBLOCKED")
					for _, name := range sortedContexts(rules) {
						fmt.Fprintf(tw, "%s\t%s\n", name, joinOrDash(rules[name]))
					}
					return tw.Flush()
				})
			},
		},
		a.ruleToggleCmd("block", true),
		a.ruleToggleCmd("unblock", false),
	)
	return cmd
}

func (a *app) ruleToggleCmd(name string, block bool) *cobra.Command {
	short := "Block an action in a context"
	if !block {
		short = "Unblock an action in a context"
	}
	return &cobra.Command{
		Use:   name + " <context> <label...>",
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			contextName := args[0]
			label := strings.Join(args[1:], " ")
			return a.call(cmd, func(ctx context.Context, cli *client.Client) error {
				var (
					changed bool
					err     error
				)
				if block {
					changed, err = cli.Block(ctx, contextName, label)
				} else {
					changed, err = cli.Unblock(ctx, contextName, label)
				}
				if err != nil {
					return err
				}
				if !changed {
					fmt.Fprintf(a.stdout, "No change for %q in %s\n", label, contextName)
					return nil
				}
				fmt.Fprintf(a.stdout, "%sed %q in %s\n", strings.ToUpper(name[:1])+name[1:], label, contextName)
				return nil
			})
		},
	}
}

func (a *app) triggersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triggers",
		Short: "Manage the words that arm the blocking window",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List trigger words",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.call(cmd, func(ctx context.Context, cli *client.Client) error {
					words, err := cli.Triggers(ctx)
					if err != nil {
						return err
					}
					if a.v.GetBool("json") {
						return a.printJSON(words)
					}
					if len(words) == 0 {
						fmt.Fprintln(a.stdout, "No trigger words")
						return nil
					}
					for _, w := range words {
						fmt.Fprintln(a.stdout, w)
					}
					return nil
				})
			},
		},
		a.triggerToggleCmd("add", true),
		a.triggerToggleCmd("remove", false),
	)
	return cmd
}

func (a *app) triggerToggleCmd(name string, add bool) *cobra.Command {
	short := "Add a trigger word"
	if !add {
		short = "Remove a trigger word"
	}
	return &cobra.Command{
		Use:   name + " <word...>",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			word := strings.Join(args, " ")
			return a.call(cmd, func(ctx context.Context, cli *client.Client) error {
				var (
					changed bool
					err     error
				)
				if add {
					changed, err = cli.AddTrigger(ctx, word)
				} else {
					changed, err = cli.RemoveTrigger(ctx, word)
				}
				if err != nil {
					return err
				}
				if !changed {
					fmt.Fprintf(a.stdout, "No change for %q\n", word)
					return nil
				}
				if add {
					fmt.Fprintf(a.stdout, "Added %q\n", word)
				} else {
					fmt.Fprintf(a.stdout, "Removed %q\n", word)
				}
				return nil
			})
		},
	}
}
