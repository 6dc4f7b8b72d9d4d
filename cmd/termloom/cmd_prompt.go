package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/termloom/internal/scheduler"
	"github.com/user/termloom/internal/types"
)

func init() {
	rootCmd.AddCommand(promptCmd)
	promptCmd.AddCommand(promptAddCmd, promptListCmd, promptRemoveCmd, promptEnableCmd, promptDisableCmd)

	promptAddCmd.Flags().String("name", "", "prompt name (required)")
	promptAddCmd.Flags().String("text", "", "prompt text (required)")
	promptAddCmd.Flags().String("schedule", "", "cron schedule expression")
	promptAddCmd.Flags().String("dir", "", "working directory for the session")
	promptAddCmd.Flags().String("mode", "agent", "input mode (terminal or agent)")
	_ = promptAddCmd.MarkFlagRequired("name")
	_ = promptAddCmd.MarkFlagRequired("text")
}

func promptStore() *scheduler.PromptStore {
	cfg := loadConfig()
	return scheduler.NewPromptStore(filepath.Join(cfg.DataDir, "prompts.json"))
}

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Manage scheduled prompts",
}

var promptAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new scheduled prompt",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		text, _ := cmd.Flags().GetString("text")
		schedule, _ := cmd.Flags().GetString("schedule")
		dir, _ := cmd.Flags().GetString("dir")
		mode, _ := cmd.Flags().GetString("mode")

		if mode != string(types.ModeTerminal) && mode != string(types.ModeAgent) {
			return fmt.Errorf("invalid mode: %s", mode)
		}

		store := promptStore()
		p := &scheduler.Prompt{
			Name:             name,
			Text:             text,
			Schedule:         schedule,
			WorkingDirectory: dir,
			Mode:             types.InputMode(mode),
			Enabled:          true,
		}
		if err := store.Add(p); err != nil {
			return fmt.Errorf("add prompt: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Prompt %q added.\n", name)
		return nil
	},
}

var promptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all scheduled prompts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := promptStore()
		prompts, err := store.List()
		if err != nil {
			return fmt.Errorf("list prompts: %w", err)
		}

		if len(prompts) == 0 {
			fmt.Println("No prompts configured.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSCHEDULE\tMODE\tENABLED\tDIRECTORY")
		for _, p := range prompts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
				p.Name,
				p.Schedule,
				p.Mode,
				p.Enabled,
				p.WorkingDirectory,
			)
		}
		return w.Flush()
	},
}

var promptRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a scheduled prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := promptStore()
		if err := store.Remove(args[0]); err != nil {
			return fmt.Errorf("remove prompt: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Prompt %q removed.\n", args[0])
		return nil
	},
}

var promptEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a scheduled prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := promptStore()
		if err := store.SetEnabled(args[0], true); err != nil {
			return fmt.Errorf("enable prompt: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Prompt %q enabled.\n", args[0])
		return nil
	},
}

var promptDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a scheduled prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := promptStore()
		if err := store.SetEnabled(args[0], false); err != nil {
			return fmt.Errorf("disable prompt: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Prompt %q disabled.\n", args[0])
		return nil
	},
}
