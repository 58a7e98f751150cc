package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/subgraph/citadel/lib/keys"
	"github.com/subgraph/citadel/lib/logger"
)

func (c *cli) genkeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genkeys",
		Short: "Generate a signing key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := keys.GenerateKeyPair()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "keypair = \"%s\"\n", kp.Hex())
			fmt.Fprintf(out, "pubkey = \"%s\"\n", kp.PublicKey().Hex())
			return nil
		},
	}
}

func (c *cli) signCmd() *cobra.Command {
	var keypair string
	cmd := &cobra.Command{
		Use:   "sign <path>",
		Short: "Sign the header of an image file",
		Long:  "Sign the metainfo of an image file with a hex key pair from --keypair or CITADEL_KEYPAIR and rewrite its header.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if keypair == "" {
				keypair = os.Getenv("CITADEL_KEYPAIR")
			}
			if keypair == "" {
				return fmt.Errorf("no key pair given, use --keypair or CITADEL_KEYPAIR")
			}
			kp, err := keys.KeyPairFromHex(keypair)
			if err != nil {
				return err
			}
			img, err := loadImage(args[0])
			if err != nil {
				return err
			}
			if err := kp.SignHeader(img.Header()); err != nil {
				return err
			}
			if err := img.WriteHeader(); err != nil {
				return err
			}
			logger.FromContext(ctx).InfoContext(ctx, "image header signed", "path", img.Path(), "pubkey", kp.PublicKey().Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&keypair, "keypair", "", "hex encoded key pair as printed by genkeys")
	return cmd
}
