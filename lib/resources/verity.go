package resources

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/subgraph/citadel/lib/header"
	"github.com/subgraph/citadel/lib/logger"
	"github.com/subgraph/citadel/lib/mounts"
	"github.com/subgraph/citadel/lib/verity"
)

func verityParams(img *Image) verity.Params {
	mi := img.MetaInfo()
	return verity.Params{
		DataBlocks: mi.NBlocks(),
		Salt:       mi.VeritySalt(),
		RootHash:   mi.VerityRoot(),
	}
}

// GenerateVerity appends a hash tree to the image and records it in the
// header. It does nothing when the hash tree is already present. A
// compressed image must be decompressed first.
func (s *Store) GenerateVerity(ctx context.Context, img *Image) (err error) {
	if img.HasVerityHashTree() {
		return nil
	}
	if img.IsCompressed() {
		return fmt.Errorf("generate hash tree for %s: %w", img.Path(), ErrCompressed)
	}
	defer func() { s.metrics.RecordVerity(ctx, "format", err) }()

	log := logger.FromContext(ctx)
	log.InfoContext(ctx, "generating dm-verity hash tree", "path", img.Path())

	loop, err := s.loops.AttachLoop(img.Path(), header.BlockSize, false)
	if err != nil {
		return fmt.Errorf("attach %s: %w", img.Path(), err)
	}
	root, err := s.engine.Format(ctx, loop.Device(), verityParams(img))
	if derr := loop.Detach(); derr != nil {
		log.WarnContext(ctx, "failed to detach loop device", "device", loop.Device(), "error", derr)
	}
	if err != nil {
		return fmt.Errorf("format hash tree for %s: %w", img.Path(), err)
	}

	if want := img.MetaInfo().VerityRoot(); want != "" && want != root {
		return fmt.Errorf("%s: %w: generated %s, expected %s", img.Path(), verity.ErrRootHashMismatch, root, want)
	}

	img.Header().SetFlag(header.FlagHashTree)
	if err := img.WriteHeader(); err != nil {
		img.Header().ClearFlag(header.FlagHashTree)
		return err
	}
	return nil
}

// VerifyVerity checks the whole payload against the hash tree. It never
// modifies the image.
func (s *Store) VerifyVerity(ctx context.Context, img *Image) (ok bool, err error) {
	if img.IsCompressed() {
		return false, fmt.Errorf("verify %s: %w", img.Path(), ErrCompressed)
	}
	if !img.HasVerityHashTree() {
		return false, fmt.Errorf("verify %s: %w", img.Path(), ErrNoHashTree)
	}
	p := verityParams(img)
	if p.RootHash == "" {
		return false, fmt.Errorf("verify %s: %w", img.Path(), ErrNoVerityRoot)
	}
	defer func() {
		if err == nil && !ok {
			s.metrics.RecordVerity(ctx, "verify", ErrVerityFailed)
			return
		}
		s.metrics.RecordVerity(ctx, "verify", err)
	}()

	logger.FromContext(ctx).InfoContext(ctx, "verifying dm-verity hash tree", "path", img.Path())

	loop, err := s.loops.AttachLoop(img.Path(), header.BlockSize, true)
	if err != nil {
		return false, fmt.Errorf("attach %s: %w", img.Path(), err)
	}
	defer loop.Detach()

	return s.engine.Verify(ctx, loop.Device(), p)
}

// VerityDevice is a live dm-verity mapping of an image and the loop device
// under it.
type VerityDevice struct {
	name   string
	loop   mounts.Loop
	engine verity.Engine
}

// Name is the device-mapper name.
func (d *VerityDevice) Name() string { return d.name }

// Path is the device node, /dev/mapper/<name>.
func (d *VerityDevice) Path() string { return verity.DevicePath(d.name) }

// Close removes the mapping and detaches the loop device.
func (d *VerityDevice) Close(ctx context.Context) error {
	var result *multierror.Error
	if err := d.engine.Close(ctx, d.name); err != nil {
		result = multierror.Append(result, fmt.Errorf("close verity device %s: %w", d.name, err))
	}
	if err := d.loop.Detach(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// SetupVerityDevice checks the header signature (unless disabled), makes
// sure the hash tree exists and maps the payload as an integrity checked
// device.
func (s *Store) SetupVerityDevice(ctx context.Context, img *Image) (dev *VerityDevice, err error) {
	log := logger.FromContext(ctx)

	if s.policy.NoSignatures {
		log.WarnContext(ctx, "header signature check disabled", "path", img.Path())
	} else {
		if err := s.keys.Check(img.Header()); err != nil {
			return nil, fmt.Errorf("%s: %w", img.Path(), err)
		}
		log.InfoContext(ctx, "image header signature is valid", "path", img.Path())
	}

	if err := s.GenerateVerity(ctx, img); err != nil {
		return nil, err
	}
	p := verityParams(img)
	if p.RootHash == "" {
		return nil, fmt.Errorf("%s: %w", img.Path(), ErrNoVerityRoot)
	}
	defer func() { s.metrics.RecordVerity(ctx, "open", err) }()

	loop, err := s.loops.AttachLoop(img.Path(), header.BlockSize, true)
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", img.Path(), err)
	}
	name := img.VerityDeviceName()
	log.InfoContext(ctx, "setting up dm-verity device", "name", name, "loop", loop.Device())
	if err := s.engine.Open(ctx, name, loop.Device(), p); err != nil {
		loop.Detach()
		return nil, fmt.Errorf("open verity device %s: %w", name, err)
	}
	return &VerityDevice{name: name, loop: loop, engine: s.engine}, nil
}
