package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/subgraph/citadel/lib/disks"
	"github.com/subgraph/citadel/lib/header"
)

func (c *cli) mountCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "mount <kernel|extra|rootfs>",
		Short:     "Mount the best image of a type and apply its manifest",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(header.ImageTypeKernel), string(header.ImageTypeExtra), string(header.ImageTypeRootfs)},
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := header.ParseImageType(args[0])
			if err != nil {
				return err
			}
			m, err := c.store.MountImageType(cmd.Context(), t)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), m.Target())
			return nil
		},
	}
}

func (c *cli) disksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disks",
		Short: "List disks available for installation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := disks.ProbeAll(c.paths)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tSIZE\tREMOVABLE\tMODEL")
			for _, d := range list {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", d.Path, d.SizeString, d.Removable, d.Model)
			}
			return w.Flush()
		},
	}
}

func (c *cli) bootPartitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boot-partition",
		Short: "Show the EFI system partition the system booted from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := disks.NewFinder(c.paths, nil).FindBootPartition(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dev)
			return nil
		},
	}
}
