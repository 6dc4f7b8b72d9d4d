package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/user/termloom/internal/ui"
	"github.com/user/termloom/internal/types"
)

var runMode string

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "terminal", "Initial input mode (terminal or agent)")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [dir]",
	Short: "Run an interactive session without the daemon",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInteractive,
}

func runInteractive(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	mode := types.InputMode(runMode)
	if mode != types.ModeTerminal && mode != types.ModeAgent {
		return fmt.Errorf("invalid mode: %s", runMode)
	}

	workdir := ""
	if len(args) > 0 {
		workdir = args[0]
	}
	if workdir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		workdir = wd
	}

	eng, cleanup, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng.Start(ctx)
	defer eng.Stop()

	sess, err := eng.OpenSession(ctx, workdir, mode)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	model := ui.NewModel(eng, sess.ID)
	defer model.Close()

	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run UI: %w", err)
	}
	return nil
}
