// Package headertest builds resource image files for tests.
package headertest

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/subgraph/citadel/lib/header"
)

// Image describes an image file to write. Payload is padded with zeros to a
// whole number of blocks; Shasum defaults to the digest of the padded payload.
type Image struct {
	Type          header.ImageType
	Channel       string
	Version       uint32
	Timestamp     string
	KernelVersion string
	KernelID      string
	RealmFSName   string
	Shasum        string
	VeritySalt    string
	VerityRoot    string
	Flags         []header.Flag
	Status        header.Status
	Payload       []byte
}

// Payload returns n blocks filled with b.
func Payload(n int, b byte) []byte {
	p := make([]byte, n*header.BlockSize)
	for i := range p {
		p[i] = b
	}
	return p
}

// Build returns the header for img and its padded payload.
func Build(t testing.TB, img Image) (*header.Header, []byte) {
	t.Helper()

	payload := img.Payload
	if rem := len(payload) % header.BlockSize; rem != 0 || len(payload) == 0 {
		pad := header.BlockSize - rem
		payload = append(append([]byte{}, payload...), make([]byte, pad)...)
	}
	shasum := img.Shasum
	if shasum == "" {
		sum := sha256.Sum256(payload)
		shasum = hex.EncodeToString(sum[:])
	}
	channel := img.Channel
	if channel == "" {
		channel = "dev"
	}
	salt := img.VeritySalt
	if salt == "" {
		salt = "00112233445566778899aabbccddeeff"
	}

	mi, err := header.NewMetaInfo(header.MetaInfoParams{
		ImageType:     img.Type,
		Channel:       channel,
		Version:       img.Version,
		Timestamp:     img.Timestamp,
		NBlocks:       uint64(len(payload) / header.BlockSize),
		Shasum:        shasum,
		VeritySalt:    salt,
		VerityRoot:    img.VerityRoot,
		KernelVersion: img.KernelVersion,
		KernelID:      img.KernelID,
		RealmFSName:   img.RealmFSName,
	})
	require.NoError(t, err)
	b, err := mi.Marshal()
	require.NoError(t, err)
	h, err := header.New(b)
	require.NoError(t, err)
	for _, f := range img.Flags {
		h.SetFlag(f)
	}
	if img.Status != header.StatusInvalid {
		h.SetStatus(img.Status)
	}
	return h, payload
}

// Write writes img to path and returns its header.
func Write(t testing.TB, path string, img Image) *header.Header {
	t.Helper()

	h, payload := Build(t, img)
	data := append(h.Marshal(), payload...)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return h
}
