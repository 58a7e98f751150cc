package update

import "github.com/subgraph/citadel/lib/header"

// Stage names a completed step of an install.
type Stage string

const (
	StageValidated        Stage = "validated"
	StageStaged           Stage = "staged"
	StageDecompressed     Stage = "decompressed"
	StageVerified         Stage = "verified"
	StageIntegrity        Stage = "integrity-setup-complete"
	StageRootfsInstalled  Stage = "rootfs-installed"
	StageStorageInstalled Stage = "storage-installed"
)

// Options control a single install.
type Options struct {
	// SkipSha skips comparing the payload digest with the metainfo shasum.
	SkipSha bool
	// NoPrefer leaves PREFER_BOOT alone when installing a rootfs image.
	NoPrefer bool
	// Verbose logs the rootfs partition choice at info level.
	Verbose bool
	// Progress, when set, is called after each completed stage.
	Progress func(stage Stage, message string)
}

func (o Options) report(stage Stage, message string) {
	if o.Progress != nil {
		o.Progress(stage, message)
	}
}

// Result describes an installed image.
type Result struct {
	Type    header.ImageType `json:"type"`
	Channel string           `json:"channel"`
	Version uint32           `json:"version"`
	// Destination is the installed image file, or the partition device
	// for rootfs images.
	Destination string `json:"destination"`
}
