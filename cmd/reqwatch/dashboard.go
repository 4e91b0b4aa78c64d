package main

import (
	"context"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/reqwatch/internal/config"
	"github.com/janekbaraniewski/reqwatch/internal/daemon"
	"github.com/janekbaraniewski/reqwatch/internal/tui"
)

func runDashboard(cfg config.Config) error {
	if err := tui.LoadThemes(config.ConfigDir()); err != nil {
		log.Printf("themes: %v", err)
	}
	tui.SetThemeByName(cfg.UI.Theme)

	socketPath, err := daemon.DefaultSocketPath()
	if err != nil {
		return err
	}
	verbose := os.Getenv("REQWATCH_DEBUG") != ""

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := daemon.EnsureRunning(ctx, socketPath, verbose)
	if err != nil {
		state := daemon.ClassifyEnsureError(err)
		if state.Message != "" {
			fmt.Fprintln(os.Stderr, state.Message)
		}
		if state.InstallHint != "" {
			fmt.Fprintln(os.Stderr, "hint:", state.InstallHint)
		}
		// The dashboard still starts; it shows the unreachable banner
		// and keeps polling in case the daemon comes up later.
		client = daemon.NewClient(socketPath)
	}

	model := tui.NewModel(client, cfg.UI.WarnThreshold, cfg.UI.CritThreshold)
	program := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := program.Run(); err != nil {
		log.SetOutput(os.Stderr)
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

func newDaemonCommand() *cobra.Command {
	var socketPath string
	var dbPath string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the tracker daemon in the foreground",
		RunE: func(_ *cobra.Command, _ []string) error {
			return daemon.RunServer(daemon.Config{
				SocketPath: socketPath,
				DBPath:     dbPath,
				ConfigPath: config.ConfigPath(),
				Verbose:    verbose || os.Getenv("REQWATCH_DEBUG") != "",
			})
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket-path", "", "unix socket path to serve on")
	cmd.Flags().StringVar(&dbPath, "db-path", "", "sqlite database path")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log to stderr")
	return cmd
}
