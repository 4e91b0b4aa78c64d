package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/reqwatch/internal/appupdate"
	"github.com/janekbaraniewski/reqwatch/internal/daemon"
	"github.com/janekbaraniewski/reqwatch/internal/version"
)

func daemonClient(socketFlag string) (*daemon.Client, error) {
	socketPath, err := resolveSocketPath(socketFlag)
	if err != nil {
		return nil, err
	}
	return daemon.NewClient(socketPath), nil
}

func newStatusCommand() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and session state",
		RunE: func(_ *cobra.Command, _ []string) error {
			client, err := daemonClient(socketPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			health, err := client.HealthInfo(ctx)
			if err != nil {
				fmt.Printf("daemon: not running (%v)\n", err)
				fmt.Println("start it with: reqwatch daemon, or install the service: reqwatch service install")
				return nil
			}
			fmt.Printf("daemon: running version=%s api=%s\n",
				strings.TrimSpace(health.DaemonVersion), strings.TrimSpace(health.APIVersion))

			status, err := client.Status(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("session: %s\n", status.SessionState)
			if status.HasData {
				fmt.Printf("last fetch: %s\n", status.LastFetchedAt)
			} else {
				fmt.Println("last fetch: never")
			}
			fmt.Printf("refresh interval: %ds, prediction window: %d days\n",
				status.IntervalSeconds, status.PeriodDays)
			return nil
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket-path", "", "daemon socket path")
	return cmd
}

func newRefreshCommand() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Trigger an immediate usage refresh",
		RunE: func(_ *cobra.Command, _ []string) error {
			client, err := daemonClient(socketPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			resp, err := client.TriggerRefresh(ctx)
			if err != nil {
				return err
			}
			if !resp.Triggered {
				fmt.Printf("refresh skipped: %s\n", resp.Reason)
				return nil
			}
			fmt.Println("refresh started")
			return nil
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket-path", "", "daemon socket path")
	return cmd
}

func newLoginCommand() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Open the GitHub login window",
		RunE: func(_ *cobra.Command, _ []string) error {
			client, err := daemonClient(socketPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			resp, err := client.Login(ctx)
			if err != nil {
				return err
			}
			if resp.Message != "" {
				fmt.Println(resp.Message)
			} else {
				fmt.Println("login window opened; complete the sign-in in the browser")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket-path", "", "daemon socket path")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Log out and clear the stored session",
		RunE: func(_ *cobra.Command, _ []string) error {
			client, err := daemonClient(socketPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			resp, err := client.Logout(ctx)
			if err != nil {
				return err
			}
			if resp.Message != "" {
				fmt.Println(resp.Message)
			} else {
				fmt.Println("logged out")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket-path", "", "daemon socket path")
	return cmd
}

func newServiceCommand() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the background tracker service",
	}
	cmd.PersistentFlags().StringVar(&socketPath, "socket-path", "", "daemon socket path")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "install",
			Short: "Install and start the user service (launchd or systemd)",
			RunE: func(_ *cobra.Command, _ []string) error {
				path, err := resolveSocketPath(socketPath)
				if err != nil {
					return err
				}
				if err := daemon.InstallService(path); err != nil {
					return err
				}
				fmt.Println("tracker service installed")
				return nil
			},
		},
		&cobra.Command{
			Use:   "uninstall",
			Short: "Stop and remove the user service",
			RunE: func(_ *cobra.Command, _ []string) error {
				path, err := resolveSocketPath(socketPath)
				if err != nil {
					return err
				}
				if err := daemon.UninstallService(path); err != nil {
					return err
				}
				fmt.Println("tracker service uninstalled")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show service installation and health",
			RunE: func(_ *cobra.Command, _ []string) error {
				path, err := resolveSocketPath(socketPath)
				if err != nil {
					return err
				}
				return daemon.ServiceStatus(path)
			},
		},
	)
	return cmd
}

func newUpdateCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update-check",
		Short: "Check GitHub releases for a newer reqwatch",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			result, err := appupdate.NewChecker(nil).Check(ctx, version.Version)
			if err != nil {
				return fmt.Errorf("update check: %w", err)
			}
			if result.CurrentVersion == "" {
				fmt.Println("development build, skipping update check")
				return nil
			}
			if !result.UpdateAvailable {
				fmt.Printf("reqwatch %s is up to date\n", result.CurrentVersion)
				return nil
			}
			fmt.Printf("update available: %s -> %s\n", result.CurrentVersion, result.LatestVersion)
			if result.UpgradeHint != "" {
				fmt.Println("upgrade with:", result.UpgradeHint)
			}
			return nil
		},
	}
}
