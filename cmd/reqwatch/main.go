package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/reqwatch/internal/config"
	"github.com/janekbaraniewski/reqwatch/internal/daemon"
	"github.com/janekbaraniewski/reqwatch/internal/version"
)

func main() {
	if os.Getenv("REQWATCH_DEBUG") != "" {
		log.SetOutput(os.Stderr)
	} else {
		log.SetOutput(io.Discard)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		fmt.Fprintf(os.Stderr, "Config path: %s\n", config.ConfigPath())
		os.Exit(1)
	}

	root := cobra.Command{
		Use:   "reqwatch",
		Short: "Reqwatch tracks GitHub Copilot premium request usage from your terminal.",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runDashboard(cfg)
		},
	}

	root.AddCommand(
		newDaemonCommand(),
		newStatusCommand(),
		newLoginCommand(),
		newLogoutCommand(),
		newRefreshCommand(),
		newHistoryCommand(),
		newServiceCommand(),
		newVersionCommand(),
		newUpdateCheckCommand(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveSocketPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	return daemon.DefaultSocketPath()
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the reqwatch version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println("reqwatch", version.String())
		},
	}
}
