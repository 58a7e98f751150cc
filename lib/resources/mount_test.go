package resources

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subgraph/citadel/lib/errdefs"
	"github.com/subgraph/citadel/lib/header"
	"github.com/subgraph/citadel/lib/header/headertest"
	"github.com/subgraph/citadel/lib/keys"
	"github.com/subgraph/citadel/lib/verity/veritytest"
)

func TestGenerateVerityIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Policy{}, "")
	path := filepath.Join(t.TempDir(), "extra.img")
	headertest.Write(t, path, headertest.Image{Type: header.ImageTypeExtra, Version: 1, VerityRoot: veritytest.RootHash})

	img, err := OpenImage(path)
	require.NoError(t, err)
	require.False(t, img.HasVerityHashTree())

	require.NoError(t, env.store.GenerateVerity(ctx, img))
	assert.True(t, img.HasVerityHashTree())
	assert.Equal(t, 1, env.engine.Formats())
	assert.Equal(t, 0, env.loops.Attached())

	reread, err := OpenImage(path)
	require.NoError(t, err)
	assert.True(t, reread.HasVerityHashTree())

	require.NoError(t, env.store.GenerateVerity(ctx, reread))
	assert.Equal(t, 1, env.engine.Formats())
}

func TestGenerateVerityRootMismatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Policy{}, "")
	path := filepath.Join(t.TempDir(), "extra.img")
	headertest.Write(t, path, headertest.Image{Type: header.ImageTypeExtra, Version: 1, VerityRoot: "ffff"})

	img, err := OpenImage(path)
	require.NoError(t, err)
	err = env.store.GenerateVerity(ctx, img)
	require.ErrorIs(t, err, errdefs.ErrIntegrity)
	assert.False(t, img.HasVerityHashTree())
}

func TestGenerateVerityRejectsCompressed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Policy{}, "")
	path := filepath.Join(t.TempDir(), "extra.img")
	headertest.Write(t, path, headertest.Image{Type: header.ImageTypeExtra, Version: 1, Flags: []header.Flag{header.FlagDataCompressed}})

	img, err := OpenImage(path)
	require.NoError(t, err)
	require.ErrorIs(t, env.store.GenerateVerity(ctx, img), ErrCompressed)
	_, err = env.store.VerifyVerity(ctx, img)
	require.ErrorIs(t, err, ErrCompressed)
	assert.Equal(t, 0, env.engine.Formats())
}

func TestVerifyVerityDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Policy{}, "")
	path := filepath.Join(t.TempDir(), "extra.img")
	headertest.Write(t, path, headertest.Image{Type: header.ImageTypeExtra, Version: 1, VerityRoot: veritytest.RootHash})

	img, err := OpenImage(path)
	require.NoError(t, err)

	_, err = env.store.VerifyVerity(ctx, img)
	require.ErrorIs(t, err, ErrNoHashTree)

	require.NoError(t, env.store.GenerateVerity(ctx, img))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	ok, err := env.store.VerifyVerity(ctx, img)
	require.NoError(t, err)
	assert.True(t, ok)

	env.engine.VerifyResult = false
	ok, err = env.store.VerifyVerity(ctx, img)
	require.NoError(t, err)
	assert.False(t, ok)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 0, env.loops.Attached())
}

func TestMountVerity(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Policy{}, "")
	path := filepath.Join(env.paths.RunImages(), "extra.img")
	writeSigned(t, path, headertest.Image{Type: header.ImageTypeExtra, Version: 1, VerityRoot: veritytest.RootHash})

	img, err := OpenImage(path)
	require.NoError(t, err)

	m, err := env.store.MountImage(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, "verity", m.Mode())
	assert.Equal(t, env.paths.MountPoint("extra"), m.Target())

	src, ok := env.mounter.Mounted(m.Target())
	require.True(t, ok)
	assert.Equal(t, "/dev/mapper/verity-extra", src)
	assert.Equal(t, []string{"verity-extra"}, env.engine.OpenDevices())
	assert.Equal(t, 1, env.loops.Attached())

	require.NoError(t, m.Unmount(ctx))
	assert.Equal(t, "unmounted", m.Mode())
	assert.Empty(t, env.engine.OpenDevices())
	assert.Equal(t, 0, env.loops.Attached())
	assert.Equal(t, 0, env.mounter.Count())

	// second unmount only warns
	require.NoError(t, m.Unmount(ctx))
}

func TestMountVerityRequiresSignature(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Policy{}, "")
	path := filepath.Join(env.paths.RunImages(), "extra.img")
	headertest.Write(t, path, headertest.Image{Type: header.ImageTypeExtra, Version: 1, VerityRoot: veritytest.RootHash})

	img, err := OpenImage(path)
	require.NoError(t, err)

	_, err = env.store.MountAt(ctx, img, filepath.Join(t.TempDir(), "mnt"))
	require.ErrorIs(t, err, keys.ErrNoSignature)
	assert.Equal(t, 0, env.loops.Attached())
	assert.Equal(t, 0, env.mounter.Count())

	lax := newTestEnv(t, Policy{NoSignatures: true}, "")
	m, err := lax.store.MountAt(ctx, img, filepath.Join(t.TempDir(), "mnt"))
	require.NoError(t, err)
	require.NoError(t, m.Unmount(ctx))
}

func TestMountVerityReleasesDeviceOnFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Policy{NoSignatures: true}, "")
	path := filepath.Join(env.paths.RunImages(), "extra.img")
	headertest.Write(t, path, headertest.Image{Type: header.ImageTypeExtra, Version: 1, VerityRoot: veritytest.RootHash})

	img, err := OpenImage(path)
	require.NoError(t, err)

	env.mounter.Err = assert.AnError
	_, err = env.store.MountAt(ctx, img, filepath.Join(t.TempDir(), "mnt"))
	require.Error(t, err)
	assert.Empty(t, env.engine.OpenDevices())
	assert.Equal(t, 0, env.loops.Attached())
}

func TestMountLoop(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Policy{NoVerity: true}, "")
	path := filepath.Join(env.paths.RunImages(), "rootfs.img")
	headertest.Write(t, path, headertest.Image{Type: header.ImageTypeRootfs, Version: 1})

	img, err := OpenImage(path)
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "mnt")
	m, err := env.store.MountAt(ctx, img, target)
	require.NoError(t, err)
	assert.Equal(t, "loop", m.Mode())
	assert.Empty(t, env.engine.OpenDevices())
	assert.Equal(t, 0, env.engine.Formats())

	src, ok := env.mounter.Mounted(target)
	require.True(t, ok)
	backing, ok := env.loops.Backing(src)
	require.True(t, ok)
	assert.Equal(t, path, backing)

	require.NoError(t, m.Unmount(ctx))
	assert.Equal(t, 0, env.loops.Attached())
}

func TestMountImageTypeAppliesManifest(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Policy{NoVerity: true}, "")
	path := filepath.Join(env.paths.RunImages(), "extra.img")
	headertest.Write(t, path, headertest.Image{Type: header.ImageTypeExtra, Version: 1})

	require.NoError(t, os.MkdirAll(filepath.Join(env.paths.Sysroot(), "usr/share"), 0755))
	env.mounter.OnMount = func(source, target string) error {
		require.NoError(t, os.MkdirAll(filepath.Join(target, "usr/share"), 0755))
		return os.WriteFile(filepath.Join(target, ManifestName), []byte("/usr/share\n"), 0644)
	}

	m, err := env.store.MountImageType(ctx, header.ImageTypeExtra)
	require.NoError(t, err)
	defer m.Unmount(ctx)

	binds := env.mounter.Binds()
	require.Len(t, binds, 1)
	assert.Equal(t, filepath.Join(m.Target(), "usr/share"), binds[0][0])
	assert.Equal(t, filepath.Join(env.paths.Sysroot(), "usr/share"), binds[0][1])
}
