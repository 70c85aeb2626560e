package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/taskpulse/internal/httpapi"
	"github.com/ent0n29/taskpulse/internal/tasks"
)

var Version = "dev"

type globalOptions struct {
	server  string
	timeout time.Duration
	json    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "taskctl",
		Short:         "taskctl - command-line client for the taskpulse service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultServer := os.Getenv("TASKPULSE_URL")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", defaultServer, "taskpulse base URL (env TASKPULSE_URL)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVarP(&opts.json, "json", "j", false, "print raw JSON")

	rootCmd.AddCommand(listCmd(opts))
	rootCmd.AddCommand(addCmd(opts))
	rootCmd.AddCommand(editCmd(opts))
	rootCmd.AddCommand(toggleCmd(opts))
	rootCmd.AddCommand(deleteCmd(opts))
	rootCmd.AddCommand(refreshCmd(opts))
	rootCmd.AddCommand(eventsCmd(opts))
	rootCmd.AddCommand(watchCmd(opts))

	return rootCmd
}

func listCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient(opts.server, opts.timeout)
			if err != nil {
				return err
			}
			res, err := c.list(cmd.Context())
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printTasks(cmd.OutOrStdout(), res.Tasks)
			if res.PendingRemote > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d remote write(s) pending\n", res.PendingRemote)
			}
			return nil
		},
	}
}

func addCmd(opts *globalOptions) *cobra.Command {
	var description, due string
	cmd := &cobra.Command{
		Use:   "add [title]",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient(opts.server, opts.timeout)
			if err != nil {
				return err
			}
			res, err := c.add(cmd.Context(), strings.Join(args, " "), description, due)
			if err != nil {
				return err
			}
			return printTaskResult(cmd.OutOrStdout(), opts, "added", res)
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Task description")
	cmd.Flags().StringVar(&due, "due", "", "Due date (RFC3339 or 2006-01-02 15:04)")
	return cmd
}

func editCmd(opts *globalOptions) *cobra.Command {
	var (
		title, description, due string
		clearDue                bool
	)
	cmd := &cobra.Command{
		Use:   "edit [id]",
		Short: "Edit a task's title, description or due date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch tasks.WirePatch
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			if cmd.Flags().Changed("due") {
				patch.DueDate = &due
			}
			if clearDue {
				empty := ""
				patch.DueDate = &empty
			}
			if patch.Title == nil && patch.Description == nil && patch.DueDate == nil {
				return fmt.Errorf("nothing to edit: pass --title, --description, --due or --clear-due")
			}

			c, err := newAPIClient(opts.server, opts.timeout)
			if err != nil {
				return err
			}
			res, err := c.edit(cmd.Context(), args[0], patch)
			if err != nil {
				return err
			}
			return printTaskResult(cmd.OutOrStdout(), opts, "updated", res)
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "New title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "New description")
	cmd.Flags().StringVar(&due, "due", "", "New due date")
	cmd.Flags().BoolVar(&clearDue, "clear-due", false, "Remove the due date")
	return cmd
}

func toggleCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle [id]",
		Short: "Toggle a task between completed and open",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient(opts.server, opts.timeout)
			if err != nil {
				return err
			}
			res, err := c.toggle(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			verb := "reopened"
			if res.Task.Completed {
				verb = "completed"
			}
			return printTaskResult(cmd.OutOrStdout(), opts, verb, res)
		},
	}
}

func deleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete [id]",
		Aliases: []string{"rm"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient(opts.server, opts.timeout)
			if err != nil {
				return err
			}
			warnings, err := c.remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			printWarnings(cmd.OutOrStdout(), warnings)
			return nil
		},
	}
}

func refreshCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reload tasks from the remote store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient(opts.server, opts.timeout)
			if err != nil {
				return err
			}
			res, err := c.refresh(cmd.Context())
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printTasks(cmd.OutOrStdout(), res.Tasks)
			return nil
		},
	}
}

func eventsCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events [id]",
		Short: "Show a task's recent lifecycle events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient(opts.server, opts.timeout)
			if err != nil {
				return err
			}
			events, err := c.events(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), events)
			}
			for _, evt := range events {
				fmt.Fprintln(cmd.OutOrStdout(), formatEvent(evt))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum events")
	return cmd
}

func watchCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream task events and reminders until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient(opts.server, opts.timeout)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()
			return c.watch(ctx, func(msg httpapi.HubMessage) error {
				if opts.json {
					return printJSON(out, msg)
				}
				switch msg.Type {
				case httpapi.MessageSnapshot:
					fmt.Fprintf(out, "snapshot: %d task(s)\n", len(msg.Tasks))
					printTasks(out, msg.Tasks)
				case httpapi.MessageTaskEvent:
					if msg.Event != nil {
						fmt.Fprintln(out, formatEvent(*msg.Event))
					}
				case httpapi.MessageReminder:
					if r := msg.Reminder; r != nil {
						fmt.Fprintf(out, "%s  REMINDER %q due %s\n", msg.At.Local().Format(time.TimeOnly), r.Payload.Title, r.Payload.DueDate.Local().Format("2006-01-02 15:04"))
					}
				case httpapi.MessageReminderWithdrawn:
					if r := msg.Reminder; r != nil {
						fmt.Fprintf(out, "%s  reminder withdrawn for %s\n", msg.At.Local().Format(time.TimeOnly), r.TaskID)
					}
				}
				return nil
			})
		},
	}
}

func printTasks(w io.Writer, list []tasks.Task) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no tasks")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDONE\tTITLE\tDUE\tREMINDER")
	for _, t := range list {
		done := " "
		if t.Completed {
			done = "x"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, done, t.Title, formatTime(t.DueDate), formatTime(t.ReminderAt))
	}
	_ = tw.Flush()
}

func printTaskResult(w io.Writer, opts *globalOptions, verb string, res taskResult) error {
	if opts.json {
		return printJSON(w, res)
	}
	fmt.Fprintf(w, "%s %s %q\n", verb, res.Task.ID, res.Task.Title)
	printWarnings(w, res.Warnings)
	return nil
}

func printWarnings(w io.Writer, warnings []string) {
	for _, warn := range warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatEvent(evt tasks.Event) string {
	line := fmt.Sprintf("%s  %-18s %s", evt.At.Local().Format(time.TimeOnly), evt.Type, evt.TaskID)
	if evt.Code != "" {
		line += " [" + evt.Code + "]"
	}
	if evt.Detail != "" {
		line += " " + evt.Detail
	}
	return line
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

