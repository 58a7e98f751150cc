package keys

import (
	"fmt"

	"github.com/subgraph/citadel/lib/bootcfg"
	"github.com/subgraph/citadel/lib/header"
)

// Resolver finds the trusted public key for a channel.
type Resolver struct {
	cfg *bootcfg.Config
}

// NewResolver returns a Resolver reading keys from the boot configuration.
func NewResolver(cfg *bootcfg.Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// PublicKeyForChannel returns the key for channel, or nil when none is known.
//
// The dev channel uses the built in key. Otherwise os-release is consulted
// (CITADEL_CHANNEL and CITADEL_IMAGE_PUBKEY), then the command line option
// citadel.channel=name:pubkey.
func (r *Resolver) PublicKeyForChannel(channel string) (*PublicKey, error) {
	if channel == "dev" {
		return DevKeyPair().PublicKey(), nil
	}
	if ch, ok := r.cfg.OsRelease.Channel(); ok && ch == channel {
		if hex, ok := r.cfg.OsRelease.ImagePubkey(); ok {
			return PublicKeyFromHex(hex)
		}
	}
	if ch, ok := r.cfg.Cmdline.ChannelName(); ok && ch == channel {
		if hex, ok := r.cfg.Cmdline.ChannelPubkey(); ok {
			return PublicKeyFromHex(hex)
		}
	}
	return nil, nil
}

// Check verifies the header signature unconditionally. A channel without a
// known key is an error, never a pass.
func (r *Resolver) Check(h *header.Header) error {
	mi, err := h.MetaInfo()
	if err != nil {
		return err
	}
	key, err := r.PublicKeyForChannel(mi.Channel())
	if err != nil {
		return fmt.Errorf("resolve key for channel %s: %w", mi.Channel(), err)
	}
	if key == nil {
		return fmt.Errorf("%w %s", ErrNoPublicKey, mi.Channel())
	}
	if err := VerifyHeader(h, key); err != nil {
		return fmt.Errorf("channel %s: %w", mi.Channel(), err)
	}
	return nil
}
