package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subgraph/citadel/lib/header"
	"github.com/subgraph/citadel/lib/header/headertest"
	"github.com/subgraph/citadel/lib/keys"
	"github.com/subgraph/citadel/lib/resources"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--root", t.TempDir()}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestMetainfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.img")
	headertest.Write(t, path, headertest.Image{Type: header.ImageTypeExtra, Version: 7})

	out, err := execute(t, "metainfo", path)
	require.NoError(t, err)
	assert.Contains(t, out, `image-type = "extra"`)
	assert.Contains(t, out, "version = 7")
}

func TestInfoSignature(t *testing.T) {
	dir := t.TempDir()
	unsigned := filepath.Join(dir, "unsigned.img")
	headertest.Write(t, unsigned, headertest.Image{Type: header.ImageTypeExtra, Version: 1})

	out, err := execute(t, "info", unsigned)
	require.NoError(t, err)
	assert.Contains(t, out, "Signature: No Signature")
	assert.Contains(t, out, "Signature verify FAILED")

	_, err = execute(t, "sign", "--keypair", keys.DevKeyPair().Hex(), unsigned)
	require.NoError(t, err)
	out, err = execute(t, "info", unsigned)
	require.NoError(t, err)
	assert.Contains(t, out, "Signature is valid")

	stable := filepath.Join(dir, "stable.img")
	headertest.Write(t, stable, headertest.Image{Type: header.ImageTypeExtra, Channel: "stable", Version: 1})
	out, err = execute(t, "info", stable)
	require.NoError(t, err)
	assert.Contains(t, out, "No public key found for channel 'stable'")
}

func TestSignRequiresKey(t *testing.T) {
	t.Setenv("CITADEL_KEYPAIR", "")
	path := filepath.Join(t.TempDir(), "extra.img")
	headertest.Write(t, path, headertest.Image{Type: header.ImageTypeExtra, Version: 1})

	_, err := execute(t, "sign", path)
	require.Error(t, err)

	_, err = execute(t, "sign", "--keypair", "abcd", path)
	require.ErrorIs(t, err, keys.ErrInvalidKey)
}

func TestGenkeys(t *testing.T) {
	out, err := execute(t, "genkeys")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	hex := strings.Trim(strings.TrimPrefix(lines[0], "keypair = "), `"`)
	kp, err := keys.KeyPairFromHex(hex)
	require.NoError(t, err)
	assert.Equal(t, `pubkey = "`+kp.PublicKey().Hex()+`"`, lines[1])
}

func TestVerifyShasum(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.img")
	headertest.Write(t, good, headertest.Image{Type: header.ImageTypeExtra, Version: 1, Payload: headertest.Payload(2, 5)})
	out, err := execute(t, "verify-shasum", good)
	require.NoError(t, err)
	assert.Contains(t, out, "Image has correct sha256sum")

	bad := filepath.Join(dir, "bad.img")
	headertest.Write(t, bad, headertest.Image{Type: header.ImageTypeExtra, Version: 1, Shasum: strings.Repeat("0", 64)})
	out, err = execute(t, "verify-shasum", bad)
	require.ErrorIs(t, err, resources.ErrShasumMismatch)
	assert.Contains(t, out, "does not match metainfo")
}

func TestLoadImageErrors(t *testing.T) {
	_, err := execute(t, "metainfo", filepath.Join(t.TempDir(), "missing.img"))
	require.ErrorContains(t, err, "file does not exist")

	junk := filepath.Join(t.TempDir(), "junk.img")
	require.NoError(t, os.WriteFile(junk, bytes.Repeat([]byte{1}, 4096), 0644))
	_, err = execute(t, "info", junk)
	require.ErrorContains(t, err, "not a valid image file")
}

func TestDecompressUncompressedIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.img")
	headertest.Write(t, path, headertest.Image{Type: header.ImageTypeExtra, Version: 1})
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = execute(t, "decompress", path)
	require.NoError(t, err)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestArgumentValidation(t *testing.T) {
	_, err := execute(t, "install-rootfs")
	require.Error(t, err)
	_, err = execute(t, "install-rootfs", "--just-choose", "x.img")
	require.Error(t, err)
	_, err = execute(t, "mount", "realmfs-nope")
	require.ErrorIs(t, err, header.ErrInvalidMetaInfo)
}

func TestDisks(t *testing.T) {
	root := t.TempDir()
	sda := filepath.Join(root, "sys", "block", "sda")
	require.NoError(t, os.MkdirAll(filepath.Join(sda, "device"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sda, "device", "model"), []byte("Test Disk\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sda, "size"), []byte("2097152\n"), 0644))

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--root", root, "disks"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "/dev/sda")
	assert.Contains(t, out.String(), "Test Disk")
}
