package resources

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/lo"
	"github.com/subgraph/citadel/lib/header"
	"github.com/subgraph/citadel/lib/logger"
)

// filter selects images within one directory scan.
type filter struct {
	imageType header.ImageType
	// channel is empty for a channel-agnostic search.
	channel       string
	kernelVersion string
	kernelID      string
	hasKernelID   bool
}

func (f filter) match(mi *header.MetaInfo) bool {
	if f.channel != "" && mi.Channel() != f.channel {
		return false
	}
	if mi.ImageType() != f.imageType {
		return false
	}
	if f.imageType == header.ImageTypeKernel {
		kv, ok := mi.KernelVersion()
		if !ok || kv != f.kernelVersion {
			return false
		}
		id, ok := mi.KernelID()
		if ok != f.hasKernelID || id != f.kernelID {
			return false
		}
	}
	return true
}

// Find returns the best image of type t for the current channel. The run
// directory is searched first, then the channel directory in storage,
// mounting storage if needed.
func (s *Store) Find(ctx context.Context, t header.ImageType) (*Image, error) {
	log := logger.FromContext(ctx)

	channel := s.Channel()
	if err := header.ValidateChannel(channel); err != nil {
		return nil, err
	}
	f, err := s.filterFor(t, channel)
	if err != nil {
		return nil, err
	}

	log.InfoContext(ctx, "searching run directory for image", "type", t, "channel", channel)
	if img, err := s.searchDirectory(ctx, s.paths.RunImages(), f); err != nil || img != nil {
		return img, err
	}

	mounted, err := s.EnsureStorageMounted(ctx)
	if err != nil {
		return nil, err
	}
	if !mounted {
		return nil, fmt.Errorf("%w: cannot search for %s image", ErrStorageUnavailable, t)
	}

	dir := s.paths.ResourcesChannel(channel)
	log.InfoContext(ctx, "searching storage for image", "type", t, "dir", dir)
	img, err := s.searchDirectory(ctx, dir, f)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("%w: type %s channel %s", ErrNotFound, t, channel)
	}
	return img, nil
}

// FindRootfs returns a rootfs image from the run directory regardless of
// channel. Several candidates are not an error: one is returned with a warning.
func (s *Store) FindRootfs(ctx context.Context) (*Image, error) {
	img, err := s.searchDirectory(ctx, s.paths.RunImages(), filter{imageType: header.ImageTypeRootfs})
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("%w: type rootfs in %s", ErrNotFound, s.paths.RunImages())
	}
	return img, nil
}

func (s *Store) filterFor(t header.ImageType, channel string) (filter, error) {
	f := filter{imageType: t, channel: channel}
	if t != header.ImageTypeKernel {
		return f, nil
	}
	kv, err := s.kernelVersion()
	if err != nil {
		return f, fmt.Errorf("running kernel version: %w", err)
	}
	f.kernelVersion = kv
	f.kernelID, f.hasKernelID = s.boot.OsRelease.KernelID()
	return f, nil
}

func (s *Store) searchDirectory(ctx context.Context, dir string, f filter) (*Image, error) {
	log := logger.FromContext(ctx)

	matches, err := s.matchingImages(ctx, dir, f)
	if err != nil {
		return nil, err
	}
	log.DebugContext(ctx, "matching images", "dir", dir, "count", len(matches))
	if len(matches) == 0 {
		return nil, nil
	}
	if f.channel == "" {
		if len(matches) > 1 {
			log.WarnContext(ctx, "multiple images found but no channel specified, returning arbitrary image",
				"type", f.imageType, "dir", dir, "count", len(matches))
		}
		return matches[0], nil
	}
	return Newest(matches), nil
}

func (s *Store) matchingImages(ctx context.Context, dir string, f filter) ([]*Image, error) {
	log := logger.FromContext(ctx)

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	var out []*Image
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		info, err := e.Info()
		if err != nil {
			log.WarnContext(ctx, "failed to stat directory entry", "path", path, "error", err)
			continue
		}
		if !info.Mode().IsRegular() || info.Size() < header.BlockSize {
			continue
		}
		h, err := header.ReadFile(path)
		if errors.Is(err, header.ErrInvalidMagic) {
			continue
		}
		if err != nil {
			log.WarnContext(ctx, "unable to read image header", "path", path, "error", err)
			continue
		}
		img, err := NewImage(path, h)
		if err != nil {
			log.WarnContext(ctx, "unable to parse image metainfo", "path", path, "error", err)
			continue
		}
		mi := img.MetaInfo()
		kv, _ := mi.KernelVersion()
		log.DebugContext(ctx, "found image", "path", path, "type", mi.ImageType(), "channel", mi.Channel(), "kernel", kv)
		if f.match(mi) {
			out = append(out, img)
		}
	}
	return out, nil
}

// Compare orders images by version, then by numeric timestamp.
func Compare(a, b *Image) int {
	va, vb := a.MetaInfo().Version(), b.MetaInfo().Version()
	switch {
	case va > vb:
		return 1
	case va < vb:
		return -1
	}
	ta, tb := a.MetaInfo().TimestampValue(), b.MetaInfo().TimestampValue()
	switch {
	case ta > tb:
		return 1
	case ta < tb:
		return -1
	}
	return 0
}

// Newest returns the greatest image under Compare, or nil for none.
func Newest(images []*Image) *Image {
	if len(images) == 0 {
		return nil
	}
	return lo.MaxBy(images, func(a, b *Image) bool {
		return Compare(a, b) > 0
	})
}
