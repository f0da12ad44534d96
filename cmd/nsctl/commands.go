package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jrife/kvns/storage/namespace"
	"github.com/jrife/kvns/utils/log"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "nsctl",
		Short:        "Manage the namespace directory of a kvns store",
		SilenceUsage: true,
	}

	cmd.SetOut(out)
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to the config file. Settings may also be given as KVNS_ environment variables.")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	cmd.AddCommand(
		newInitCommand(opts),
		newCreateCommand(opts),
		newDeleteCommand(opts),
		newListCommand(opts),
		newNextIDCommand(opts),
		newGenFIDCommand(opts),
	)

	return cmd
}

// commandContext tags the command's context with its name so
// that every log line written on its behalf carries it.
func commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()

	if ctx == nil {
		ctx = context.Background()
	}

	return log.WithFields(ctx, zap.String("command", cmd.Name()))
}

// withDirectory runs fn against the opened directory and closes
// everything afterwards.
func withDirectory(cmd *cobra.Command, opts *options, create bool, fn func(ctx context.Context, s *session) error) (err error) {
	ctx := commandContext(cmd)
	s, err := openDirectory(ctx, opts, create)

	if err != nil {
		return err
	}

	defer func() {
		err = multierr.Append(err, s.close(ctx))
	}()

	return fn(ctx, s)
}

func printNamespace(out io.Writer, ns *namespace.Namespace) {
	fmt.Fprintf(out, "%d\t%s\t%s\n", ns.ID, ns.Name, ns.FID)
}

func newInitCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the directory index named by kvstore.ns_fid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDirectory(cmd, opts, true, func(ctx context.Context, s *session) error {
				fmt.Fprintln(cmd.OutOrStdout(), s.directory.FID())

				return nil
			})
		},
	}
}

func newCreateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "create NAME",
		Short: "Create a namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDirectory(cmd, opts, false, func(ctx context.Context, s *session) error {
				ns, err := s.directory.Create(ctx, args[0])

				if err != nil {
					return err
				}

				printNamespace(cmd.OutOrStdout(), ns)

				return s.store.IndexClose(ns.Index)
			})
		},
	}
}

func newDeleteCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a namespace and all of its objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDirectory(cmd, opts, false, func(ctx context.Context, s *session) error {
				ns, err := s.directory.Lookup(ctx, args[0])

				if err != nil {
					return err
				}

				return s.directory.Delete(ctx, ns)
			})
		},
	}
}

func newListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List namespaces in id order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDirectory(cmd, opts, false, func(ctx context.Context, s *session) error {
				namespaces, err := s.directory.List(ctx)

				if err != nil {
					return err
				}

				for _, ns := range namespaces {
					printNamespace(cmd.OutOrStdout(), ns)
				}

				return nil
			})
		},
	}
}

func newNextIDCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "next-id",
		Short: "Allocate a namespace id without creating a namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDirectory(cmd, opts, false, func(ctx context.Context, s *session) error {
				id, err := s.directory.NextID(ctx)

				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), id)

				return nil
			})
		},
	}
}

func newGenFIDCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "gen-fid",
		Short: "Print a fid not used by any index, suitable for kvstore.ns_fid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := openStore(opts)

			if err != nil {
				return err
			}

			defer func() {
				err = multierr.Append(err, s.close(commandContext(cmd)))
			}()

			fid, err := s.store.GenFID()

			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), fid)

			return nil
		},
	}
}
