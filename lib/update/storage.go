package update

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/subgraph/citadel/lib/header"
	"github.com/subgraph/citadel/lib/logger"
	"github.com/subgraph/citadel/lib/resources"
)

// channelDir returns the storage directory of a channel. The channel is
// validated before it becomes part of a path.
func (i *Installer) channelDir(channel string) (string, error) {
	if err := header.ValidateChannel(channel); err != nil {
		return "", err
	}
	return i.store.Paths().ResourcesChannel(channel), nil
}

// installedHeaders reads the header of every image file in a channel
// directory. Files that are not images are skipped.
func (i *Installer) installedHeaders(ctx context.Context, channel string) (map[string]*header.Header, error) {
	log := logger.FromContext(ctx)

	dir, err := i.channelDir(channel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	out := make(map[string]*header.Header)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		h, err := header.ReadFile(path)
		if err != nil {
			log.DebugContext(ctx, "skipping file without image header", "path", path, "error", err)
			continue
		}
		out[path] = h
	}
	return out, nil
}

// detectDuplicates rejects an image whose shasum matches an image already
// in the channel directory.
func (i *Installer) detectDuplicates(ctx context.Context, mi *header.MetaInfo) error {
	installed, err := i.installedHeaders(ctx, mi.Channel())
	if err != nil {
		return err
	}
	for path, h := range installed {
		other, err := h.MetaInfo()
		if err != nil {
			continue
		}
		if other.Shasum() == mi.Shasum() {
			return fmt.Errorf("%w: same shasum as %s", ErrDuplicateImage, path)
		}
	}
	return nil
}

// installImageFile moves the staged image into the channel directory as
// filename, rotating an existing file of the same name to filename.0.
func (i *Installer) installImageFile(ctx context.Context, img *resources.Image, filename string) (string, error) {
	dir, err := i.channelDir(img.MetaInfo().Channel())
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	dest := filepath.Join(dir, filename)
	if err := rotate(ctx, dest); err != nil {
		return "", err
	}
	logger.FromContext(ctx).InfoContext(ctx, "installing image file", "from", img.Path(), "to", dest)
	if err := os.Rename(img.Path(), dest); err != nil {
		return "", fmt.Errorf("install image file: %w", err)
	}
	return dest, nil
}

// rotate renames path to path.0, replacing any previous backup.
func rotate(ctx context.Context, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	backup := path + ".0"
	if err := os.Remove(backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", backup, err)
	}
	logger.FromContext(ctx).InfoContext(ctx, "rotating existing image file", "path", path, "backup", backup)
	if err := os.Rename(path, backup); err != nil {
		return fmt.Errorf("rotate %s: %w", path, err)
	}
	return nil
}

// removeImages deletes every installed image in channel for which remove
// returns true.
func (i *Installer) removeImages(ctx context.Context, channel string, remove func(path string, mi *header.MetaInfo) bool) error {
	log := logger.FromContext(ctx)

	installed, err := i.installedHeaders(ctx, channel)
	if err != nil {
		return err
	}
	for path, h := range installed {
		mi, err := h.MetaInfo()
		if err != nil {
			log.WarnContext(ctx, "installed image has invalid metainfo", "path", path, "error", err)
			continue
		}
		if !remove(path, mi) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	return nil
}
