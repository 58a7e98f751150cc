package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/subgraph/citadel/lib/keys"
	"github.com/subgraph/citadel/lib/logger"
	"github.com/subgraph/citadel/lib/resources"
)

func (c *cli) metainfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metainfo <path>",
		Short: "Display metainfo variables for an image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := loadImage(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(img.Header().MetaInfoBytes()))
			return nil
		},
	}
}

func (c *cli) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <path>",
		Short: "Display metainfo variables and signature status for an image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := loadImage(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, string(img.Header().MetaInfoBytes()))
			return c.printSignature(cmd, img)
		},
	}
}

func (c *cli) printSignature(cmd *cobra.Command, img *resources.Image) error {
	out := cmd.OutOrStdout()
	h := img.Header()
	if h.HasSignature() {
		fmt.Fprintf(out, "Signature: %s\n", hex.EncodeToString(h.Signature()))
	} else {
		fmt.Fprintln(out, "Signature: No Signature")
	}

	channel := img.MetaInfo().Channel()
	key, err := c.store.Keys().PublicKeyForChannel(channel)
	if err != nil {
		return err
	}
	switch {
	case key == nil:
		fmt.Fprintf(out, "No public key found for channel '%s'\n", channel)
	case keys.VerifyHeader(h, key) == nil:
		fmt.Fprintln(out, "Signature is valid")
	default:
		fmt.Fprintln(out, "Signature verify FAILED")
	}
	return nil
}

func (c *cli) generateVerityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-verity <path>",
		Short: "Generate dm-verity hash tree for an image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			img, err := loadImage(args[0])
			if err != nil {
				return err
			}
			if img.HasVerityHashTree() {
				logger.FromContext(ctx).InfoContext(ctx, "image already has dm-verity hash tree appended, doing nothing")
				return nil
			}
			return c.store.GenerateVerity(ctx, img)
		},
	}
}

func (c *cli) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <path>",
		Short: "Verify dm-verity hash tree for an image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			img, err := loadImage(args[0])
			if err != nil {
				return err
			}
			ok, err := c.store.VerifyVerity(ctx, img)
			if err != nil {
				return err
			}
			if !ok {
				logger.FromContext(ctx).WarnContext(ctx, "image verification FAILED", "path", img.Path())
				return resources.ErrVerityFailed
			}
			logger.FromContext(ctx).InfoContext(ctx, "image verification succeeded", "path", img.Path())
			return nil
		},
	}
}

func (c *cli) verifyShasumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-shasum <path>",
		Short: "Verify the sha256 sum of the image payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := loadImage(args[0])
			if err != nil {
				return err
			}
			sum, err := img.Shasum()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if sum == img.MetaInfo().Shasum() {
				fmt.Fprintf(out, "Image has correct sha256sum: %s\n", sum)
				return nil
			}
			fmt.Fprintln(out, "Image sha256 sum does not match metainfo:")
			fmt.Fprintf(out, "     image: %s\n", sum)
			fmt.Fprintf(out, "  metainfo: %s\n", img.MetaInfo().Shasum())
			return resources.ErrShasumMismatch
		},
	}
}

func (c *cli) decompressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decompress <path>",
		Short: "Decompress a compressed image file in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			img, err := loadImage(args[0])
			if err != nil {
				return err
			}
			if !img.IsCompressed() {
				logger.FromContext(ctx).InfoContext(ctx, "image is not compressed, not decompressing")
				return nil
			}
			return img.Decompress(ctx)
		},
	}
}
