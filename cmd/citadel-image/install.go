package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/subgraph/citadel/lib/logger"
	"github.com/subgraph/citadel/lib/update"
)

func (c *cli) installRootfsCmd() *cobra.Command {
	var justChoose bool
	var opts update.Options
	cmd := &cobra.Command{
		Use:   "install-rootfs [path]",
		Short: "Install a rootfs image file to a partition",
		Args: func(cmd *cobra.Command, args []string) error {
			if justChoose {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if justChoose {
				p, err := c.installer.ChoosePartition(ctx, true)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), p.Path())
				return nil
			}
			opts.Verbose = true
			p, err := c.installer.InstallRootfsImage(ctx, args[0], opts)
			if err != nil {
				return err
			}
			logger.FromContext(ctx).InfoContext(ctx, "rootfs image installed", "partition", p.Path())
			return nil
		},
	}
	cmd.Flags().BoolVar(&justChoose, "just-choose", false, "don't install anything, just show which partition would be chosen")
	cmd.Flags().BoolVar(&opts.SkipSha, "skip-sha", false, "skip verification of header sha256 value")
	cmd.Flags().BoolVar(&opts.NoPrefer, "no-prefer", false, "don't set PREFER_BOOT flag")
	return cmd
}

func (c *cli) installCmd() *cobra.Command {
	var opts update.Options
	cmd := &cobra.Command{
		Use:   "install <path>",
		Short: "Install a kernel, extra or rootfs image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logger.FromContext(ctx)
			opts.Verbose = true
			opts.Progress = func(stage update.Stage, message string) {
				log.DebugContext(ctx, "install stage complete", "stage", stage, "detail", message)
			}
			res, err := c.installer.Install(ctx, args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Destination)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.SkipSha, "skip-sha", false, "skip verification of header sha256 value")
	cmd.Flags().BoolVar(&opts.NoPrefer, "no-prefer", false, "don't set PREFER_BOOT flag on rootfs images")
	return cmd
}

func (c *cli) blessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bless",
		Short: "Mark the mounted rootfs partition as successfully booted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := c.installer.Bless(cmd.Context())
			return err
		},
	}
}
