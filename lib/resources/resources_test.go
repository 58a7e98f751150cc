package resources

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subgraph/citadel/lib/bootcfg"
	"github.com/subgraph/citadel/lib/header"
	"github.com/subgraph/citadel/lib/header/headertest"
	"github.com/subgraph/citadel/lib/keys"
	"github.com/subgraph/citadel/lib/mounts/mountstest"
	"github.com/subgraph/citadel/lib/paths"
	"github.com/subgraph/citadel/lib/verity/veritytest"
)

type testEnv struct {
	paths   *paths.Paths
	store   *Store
	engine  *veritytest.Engine
	loops   *mountstest.Loops
	mounter *mountstest.Mounter
}

func newTestEnv(t *testing.T, policy Policy, cmdline string) *testEnv {
	t.Helper()

	p := paths.New(t.TempDir())
	require.NoError(t, os.MkdirAll(filepath.Dir(p.ProcMounts()), 0755))
	require.NoError(t, os.WriteFile(p.ProcMounts(),
		[]byte(DefaultStorageDevice+" "+p.Storage()+" btrfs rw 0 0\n"), 0644))
	require.NoError(t, os.MkdirAll(p.RunImages(), 0755))
	require.NoError(t, os.MkdirAll(p.Sysroot(), 0755))

	env := &testEnv{
		paths:   p,
		engine:  veritytest.New(),
		loops:   mountstest.NewLoops(),
		mounter: mountstest.NewMounter(),
	}
	env.store = NewStore(Config{
		Paths: p,
		Boot: &bootcfg.Config{
			Cmdline:   bootcfg.ParseCommandLine(cmdline),
			OsRelease: bootcfg.NewOsRelease(map[string]string{"CITADEL_KERNEL_ID": "k1"}),
		},
		Policy:        &policy,
		Engine:        env.engine,
		Loops:         env.loops,
		Mounter:       env.mounter,
		KernelVersion: func() (string, error) { return "6.1.12", nil },
	})
	return env
}

// writeSigned writes an image signed with the dev channel key.
func writeSigned(t *testing.T, path string, img headertest.Image) *header.Header {
	t.Helper()
	h, payload := headertest.Build(t, img)
	require.NoError(t, keys.DevKeyPair().SignHeader(h))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, append(h.Marshal(), payload...), 0644))
	return h
}

func (e *testEnv) channelDir(t *testing.T, channel string) string {
	t.Helper()
	dir := e.paths.ResourcesChannel(channel)
	require.NoError(t, os.MkdirAll(dir, 0755))
	return dir
}

func TestFindSelectsHighestVersionThenTimestamp(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Policy{}, "")
	dir := env.channelDir(t, "dev")

	headertest.Write(t, filepath.Join(dir, "a.img"), headertest.Image{Type: header.ImageTypeExtra, Version: 1, Timestamp: "900"})
	headertest.Write(t, filepath.Join(dir, "b.img"), headertest.Image{Type: header.ImageTypeExtra, Version: 2, Timestamp: "100"})
	headertest.Write(t, filepath.Join(dir, "c.img"), headertest.Image{Type: header.ImageTypeExtra, Version: 2, Timestamp: "300"})
	headertest.Write(t, filepath.Join(dir, "d.img"), headertest.Image{Type: header.ImageTypeExtra, Version: 9, Channel: "stable"})
	headertest.Write(t, filepath.Join(dir, "e.img"), headertest.Image{Type: header.ImageTypeRootfs, Version: 9})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "short.img"), []byte("SGOS"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.img"), bytes.Repeat([]byte{1}, 8192), 0644))

	img, err := env.store.Find(ctx, header.ImageTypeExtra)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "c.img"), img.Path())
}

func TestFindPrefersRunDirectory(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Policy{}, "")
	dir := env.channelDir(t, "dev")

	headertest.Write(t, filepath.Join(dir, "stored.img"), headertest.Image{Type: header.ImageTypeExtra, Version: 5})
	runImg := filepath.Join(env.paths.RunImages(), "run.img")
	headertest.Write(t, runImg, headertest.Image{Type: header.ImageTypeExtra, Version: 1})

	img, err := env.store.Find(ctx, header.ImageTypeExtra)
	require.NoError(t, err)
	assert.Equal(t, runImg, img.Path())
}

func TestFindUsesCommandLineChannel(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Policy{}, "citadel.channel=stable")
	dir := env.channelDir(t, "stable")

	headertest.Write(t, filepath.Join(dir, "x.img"), headertest.Image{Type: header.ImageTypeExtra, Channel: "stable", Version: 1})

	img, err := env.store.Find(ctx, header.ImageTypeExtra)
	require.NoError(t, err)
	assert.Equal(t, "stable", img.MetaInfo().Channel())
}

func TestFindKernelMatchesVersionAndID(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Policy{}, "")
	dir := env.channelDir(t, "dev")

	headertest.Write(t, filepath.Join(dir, "old-kv.img"), headertest.Image{Type: header.ImageTypeKernel, Version: 9, KernelVersion: "5.19.1", KernelID: "k1"})
	headertest.Write(t, filepath.Join(dir, "other-id.img"), headertest.Image{Type: header.ImageTypeKernel, Version: 8, KernelVersion: "6.1.12", KernelID: "k2"})
	headertest.Write(t, filepath.Join(dir, "no-id.img"), headertest.Image{Type: header.ImageTypeKernel, Version: 7, KernelVersion: "6.1.12"})
	headertest.Write(t, filepath.Join(dir, "match.img"), headertest.Image{Type: header.ImageTypeKernel, Version: 1, KernelVersion: "6.1.12", KernelID: "k1"})

	img, err := env.store.Find(ctx, header.ImageTypeKernel)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "match.img"), img.Path())
}

func TestFindErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		env := newTestEnv(t, Policy{}, "")
		_, err := env.store.Find(ctx, header.ImageTypeExtra)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("storage unavailable", func(t *testing.T) {
		env := newTestEnv(t, Policy{}, "")
		require.NoError(t, os.WriteFile(env.paths.ProcMounts(), []byte("proc /proc proc rw 0 0\n"), 0644))
		_, err := env.store.Find(ctx, header.ImageTypeExtra)
		require.ErrorIs(t, err, ErrStorageUnavailable)
	})

	t.Run("invalid channel", func(t *testing.T) {
		env := newTestEnv(t, Policy{}, "citadel.channel=../etc")
		_, err := env.store.Find(ctx, header.ImageTypeExtra)
		require.ErrorIs(t, err, header.ErrInvalidChannel)
	})
}

func TestFindRootfsIgnoresChannel(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Policy{}, "")

	headertest.Write(t, filepath.Join(env.paths.RunImages(), "a.img"), headertest.Image{Type: header.ImageTypeRootfs, Channel: "stable", Version: 1})
	headertest.Write(t, filepath.Join(env.paths.RunImages(), "b.img"), headertest.Image{Type: header.ImageTypeRootfs, Channel: "beta", Version: 2})

	img, err := env.store.FindRootfs(ctx)
	require.NoError(t, err)
	assert.Equal(t, header.ImageTypeRootfs, img.Type())

	require.NoError(t, os.RemoveAll(env.paths.RunImages()))
	_, err = env.store.FindRootfs(ctx)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureStorageMounted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Policy{}, "")

	ok, err := env.store.EnsureStorageMounted(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, os.WriteFile(env.paths.ProcMounts(), nil, 0644))
	ok, err = env.store.EnsureStorageMounted(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "device does not exist")

	dev := filepath.Join(t.TempDir(), "citadel-storage")
	require.NoError(t, os.WriteFile(dev, nil, 0644))
	store := NewStore(Config{
		Paths:         env.paths,
		Engine:        env.engine,
		Loops:         env.loops,
		Mounter:       env.mounter,
		StorageDevice: dev,
	})
	ok, err = store.EnsureStorageMounted(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	src, mounted := env.mounter.Mounted(env.paths.Storage())
	require.True(t, mounted)
	assert.Equal(t, dev, src)

	env.mounter.Err = assert.AnError
	require.NoError(t, env.mounter.Unmount(env.paths.Storage()))
	ok, err = store.EnsureStorageMounted(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
