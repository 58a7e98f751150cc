// Command citadel-image inspects, verifies, installs and mounts resource
// images.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/subgraph/citadel/lib/bootcfg"
	"github.com/subgraph/citadel/lib/logger"
	"github.com/subgraph/citadel/lib/paths"
	"github.com/subgraph/citadel/lib/resources"
	"github.com/subgraph/citadel/lib/update"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cli holds the global flags and the components built from them.
type cli struct {
	verbose bool
	quiet   bool
	root    string

	log       *slog.Logger
	paths     *paths.Paths
	boot      *bootcfg.Config
	store     *resources.Store
	installer *update.Installer
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	cmd := &cobra.Command{
		Use:           "citadel-image",
		Short:         "Citadel resource image tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.setup(cmd)
			return nil
		},
	}
	cmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log debug messages")
	cmd.PersistentFlags().BoolVarP(&c.quiet, "quiet", "q", false, "only log warnings and errors")
	cmd.PersistentFlags().StringVar(&c.root, "root", "/", "filesystem root all system paths are resolved under")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
	cmd.PersistentFlags().MarkHidden("root")

	cmd.AddCommand(
		c.metainfoCmd(),
		c.infoCmd(),
		c.generateVerityCmd(),
		c.verifyCmd(),
		c.verifyShasumCmd(),
		c.decompressCmd(),
		c.installRootfsCmd(),
		c.installCmd(),
		c.blessCmd(),
		c.genkeysCmd(),
		c.signCmd(),
		c.mountCmd(),
		c.disksCmd(),
		c.bootPartitionCmd(),
	)
	return cmd
}

func (c *cli) setup(cmd *cobra.Command) {
	level := slog.LevelInfo
	switch {
	case c.verbose:
		level = slog.LevelDebug
	case c.quiet:
		level = slog.LevelWarn
	}
	c.log = logger.NewText(cmd.ErrOrStderr(), level)
	cmd.SetContext(logger.AddToContext(cmd.Context(), c.log))

	c.paths = paths.New(c.root)
	boot, err := bootcfg.Load(c.paths)
	if err != nil {
		c.log.Debug("no boot configuration, using defaults", "error", err)
		boot = bootcfg.Empty()
	}
	c.boot = boot
	c.store = resources.NewStore(resources.Config{Paths: c.paths, Boot: c.boot})
	c.installer = update.NewInstaller(update.Config{Store: c.store})
}

// loadImage opens the image file named by the only argument.
func loadImage(path string) (*resources.Image, error) {
	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		return nil, fmt.Errorf("cannot load image %s: file does not exist", path)
	}
	img, err := resources.OpenImage(path)
	if err != nil {
		return nil, fmt.Errorf("file %s is not a valid image file: %w", path, err)
	}
	return img, nil
}
