package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/termloom/internal/store"
	"github.com/user/termloom/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionTimelineCmd, sessionHistoryCmd, sessionClearCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect stored sessions",
}

// openStore opens the daemon's database read-only-ish for CLI inspection.
func openStore() (*store.SQLiteStore, error) {
	cfg := loadConfig()
	db, err := store.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return db, nil
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		list, err := db.ListSessions(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMODE\tDIRECTORY\tCREATED")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				s.ID,
				s.Mode,
				s.WorkingDirectory,
				s.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionTimelineCmd = &cobra.Command{
	Use:   "timeline <id>",
	Short: "Print a session's timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		entries, err := db.ListTimeline(ctx, types.SessionID(args[0]))
		if err != nil {
			return fmt.Errorf("list timeline: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("Timeline is empty.")
			return nil
		}

		for _, e := range entries {
			switch e.Type {
			case types.EntryCommand:
				if e.Command == nil {
					continue
				}
				fmt.Printf("$ %s\n", e.Command.Command)
				if e.Command.ExitCode != nil && *e.Command.ExitCode != 0 {
					fmt.Printf("(exit %d)\n", *e.Command.ExitCode)
				}
				if e.Command.Output != "" {
					fmt.Println(e.Command.Output)
				}
			case types.EntryAgentMessage:
				if e.Message == nil {
					continue
				}
				fmt.Printf("%s> %s\n", e.Message.Role, e.Message.Content)
				for _, b := range e.Message.StreamingHistory {
					if b.Type == types.BlockTool && b.Tool != nil {
						fmt.Printf("  [tool] %s (%s)\n", b.Tool.Name, b.Tool.Status)
					}
				}
			}
			fmt.Println()
		}
		return nil
	},
}

var sessionHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Print a session's input history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		entries, err := db.ListHistory(ctx, types.SessionID(args[0]))
		if err != nil {
			return fmt.Errorf("list history: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("History is empty.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODE\tINPUT")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\n", e.Mode, e.Command)
		}
		return w.Flush()
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <id|all>",
	Short: "Delete a stored session or all sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		if args[0] == "all" {
			list, err := db.ListSessions(ctx)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			for _, s := range list {
				if err := db.DeleteSession(ctx, s.ID); err != nil {
					return fmt.Errorf("delete session %s: %w", s.ID, err)
				}
			}
			fmt.Println("All sessions cleared.")
			return nil
		}

		if err := db.DeleteSession(ctx, types.SessionID(args[0])); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		fmt.Printf("Session %s cleared.\n", args[0])
		return nil
	},
}
