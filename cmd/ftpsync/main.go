package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/torfstack/ftpsync/internal/config"
	"github.com/torfstack/ftpsync/internal/failure"
	"github.com/torfstack/ftpsync/internal/logging"
	"github.com/torfstack/ftpsync/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		report(err)
	}
	os.Exit(failure.ExitCode(err))
}

func newRootCmd() *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:           "ftpsync",
		Short:         "Incremental FTP, FTPS and SFTP mirror",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var (
		debug      bool
		configPath string
	)
	rootCmd.PersistentFlags().
		BoolVarP(&debug, "debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", "", fmt.Sprintf("Config file (default: %s)", config.Path()))
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.SetDebug(debug)
		config.SetPath(configPath)
	}
	rootCmd.Args = func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return failure.Newf(failure.CodeInvalidInput, "unknown command %q for %q", args[0], cmd.CommandPath())
		}
		return nil
	}
	rootCmd.SetFlagErrorFunc(
		func(_ *cobra.Command, err error) error {
			return failure.User(err, "")
		},
	)

	var action string
	var runCmd = &cobra.Command{
		Use:   "run",
		Short: "Download new and updated files",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Get()
			if err != nil {
				return err
			}
			if action != "" {
				cfg.Action = config.Action(action)
			}
			return withService(
				cmd.Context(), cfg, func(s *service.Service) error {
					return s.Run(cmd.Context())
				},
			)
		},
	}
	runCmd.Flags().StringVar(&action, "action", "", "Override the configured action (run, testConnection)")

	var testConnectionCmd = &cobra.Command{
		Use:   "test-connection",
		Short: "Connect to the server without downloading anything",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Get()
			if err != nil {
				return err
			}
			return withService(
				cmd.Context(), cfg, func(s *service.Service) error {
					return s.TestConnection(cmd.Context())
				},
			)
		},
	}

	var daemonCmd = &cobra.Command{
		Use:   "daemon",
		Short: "Sync repeatedly, reloading the config file when it changes",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Get()
			if err != nil {
				return err
			}
			if err = cfg.Validate(); err != nil {
				return err
			}
			return service.RunDaemon(cmd.Context(), cfg)
		},
	}

	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Create the config file interactively",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.GetInteractive()
			if err != nil {
				return err
			}
			logging.Infof("Config file is '%s'", config.Path())
			return cfg.Validate()
		},
	}

	var limit int
	var historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List recently downloaded files",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Get()
			if err != nil {
				return err
			}
			return withService(
				cmd.Context(), cfg, func(s *service.Service) error {
					items, err := s.History(cmd.Context(), limit)
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
					fmt.Fprintln(w, "DOWNLOADED\tSOURCE\tDESTINATION\tSIZE\tRUN")
					for _, t := range items {
						fmt.Fprintf(
							w, "%s\t%s\t%s\t%s\t%s\n",
							humanize.Time(t.DownloadedAt), t.SourcePath, t.Destination,
							humanize.IBytes(uint64(t.Size)), t.RunID.String()[:8],
						)
					}
					return w.Flush()
				},
			)
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of transfers to show")

	rootCmd.AddCommand(runCmd, testConnectionCmd, daemonCmd, initCmd, historyCmd)
	return rootCmd
}

func withService(ctx context.Context, cfg config.Config, fn func(*service.Service) error) error {
	s, err := service.NewService(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logging.Debugf("Could not close service: %s", err)
		}
	}()
	return fn(s)
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return failure.Newf(failure.CodeInvalidInput, "%q accepts no arguments, got %q", cmd.CommandPath(), args)
	}
	return nil
}

// report logs the error ending the process. Operator errors get a one-line
// message, anything else is logged as an application error.
func report(err error) {
	if failure.ExitCode(err) == 2 {
		logging.Error("Application error, please report it", err)
		return
	}
	logging.Errorf("%s", failure.Describe(err))
}
