package resources

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/subgraph/citadel/lib/logger"
)

// ManifestName is the manifest file at the root of a mounted image.
const ManifestName = "manifest"

// livePrefix marks manifest paths that already name the live system root.
const livePrefix = "/sysroot/"

// BindSpec is one bind mount described by a manifest line.
type BindSpec struct {
	Source string
	Target string
}

// ParseManifestLine splits "source" or "source:target". A line with more
// than one ':' is malformed.
func ParseManifestLine(line string) (from, to string, err error) {
	parts := strings.Split(line, ":")
	switch len(parts) {
	case 1:
		return parts[0], parts[0], nil
	case 2:
		return parts[0], parts[1], nil
	}
	return "", "", fmt.Errorf("badly formed manifest line %q", line)
}

// resolveManifestLine maps a manifest line to host paths. Sources starting
// with /sysroot/ are live system paths; others are relative to the image
// mountpoint. Targets always land under the live system root.
func (s *Store) resolveManifestLine(mountpoint, line string) (BindSpec, error) {
	from, to, err := ParseManifestLine(line)
	if err != nil {
		return BindSpec{}, err
	}

	var src string
	if strings.HasPrefix(from, livePrefix) {
		src, err = securejoin.SecureJoin(s.paths.Sysroot(), strings.TrimPrefix(from, livePrefix))
	} else {
		src, err = securejoin.SecureJoin(mountpoint, from)
	}
	if err != nil {
		return BindSpec{}, fmt.Errorf("resolve %s: %w", from, err)
	}

	dst, err := securejoin.SecureJoin(s.paths.Sysroot(), strings.TrimPrefix(to, livePrefix))
	if err != nil {
		return BindSpec{}, fmt.Errorf("resolve %s: %w", to, err)
	}
	return BindSpec{Source: src, Target: dst}, nil
}

// ProcessManifest bind mounts every entry of the manifest at the root of
// mountpoint into the live system. Entries that are malformed or whose
// source or target does not exist are skipped with a warning. A missing
// manifest is not an error.
func (s *Store) ProcessManifest(ctx context.Context, mountpoint string) error {
	log := logger.FromContext(ctx)

	path := mountpointFile(mountpoint, ManifestName)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.WarnContext(ctx, "no manifest file found for resource image", "mountpoint", mountpoint)
		return nil
	}
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	log.InfoContext(ctx, "processing manifest", "path", path)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := s.applyManifestLine(ctx, mountpoint, line); err != nil {
			log.WarnContext(ctx, "manifest entry failed", "line", line, "error", err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	return nil
}

func (s *Store) applyManifestLine(ctx context.Context, mountpoint, line string) error {
	log := logger.FromContext(ctx)

	bind, err := s.resolveManifestLine(mountpoint, line)
	if err != nil {
		return err
	}
	if _, err := os.Stat(bind.Source); err != nil {
		log.WarnContext(ctx, "skipping bind mount, source does not exist", "source", bind.Source, "target", bind.Target)
		return nil
	}
	if _, err := os.Stat(bind.Target); err != nil {
		log.WarnContext(ctx, "skipping bind mount, target does not exist", "source", bind.Source, "target", bind.Target)
		return nil
	}
	log.InfoContext(ctx, "bind mounting from manifest", "source", bind.Source, "target", bind.Target)
	return s.mounter.BindMount(bind.Source, bind.Target)
}
