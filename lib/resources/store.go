package resources

import (
	"github.com/subgraph/citadel/lib/bootcfg"
	"github.com/subgraph/citadel/lib/keys"
	"github.com/subgraph/citadel/lib/mounts"
	"github.com/subgraph/citadel/lib/otel"
	"github.com/subgraph/citadel/lib/paths"
	"github.com/subgraph/citadel/lib/system"
	"github.com/subgraph/citadel/lib/verity"
)

// DefaultStorageDevice is the block device holding persistent storage.
const DefaultStorageDevice = "/dev/mapper/citadel-storage"

// Policy selects how images are mounted.
type Policy struct {
	// NoVerity loop mounts images and skips signature checks.
	NoVerity bool
	// NoSignatures skips header signature checks on the verity path.
	NoSignatures bool
}

// PolicyFromCommandLine reads citadel.noverity and citadel.nosignatures.
func PolicyFromCommandLine(c *bootcfg.CommandLine) Policy {
	return Policy{NoVerity: c.NoVerity(), NoSignatures: c.NoSignatures()}
}

// Config holds the collaborators of a Store. Zero fields get defaults
// that act on the running system.
type Config struct {
	Paths         *paths.Paths
	Boot          *bootcfg.Config
	Policy        *Policy
	Engine        verity.Engine
	Loops         mounts.LoopAttacher
	Mounter       mounts.Mounter
	StorageDevice string
	// KernelVersion reports the running kernel version, used to match kernel images.
	KernelVersion func() (string, error)
	Metrics       *otel.ResourceMetrics
}

// Store finds and mounts resource images.
type Store struct {
	paths         *paths.Paths
	boot          *bootcfg.Config
	keys          *keys.Resolver
	policy        Policy
	engine        verity.Engine
	loops         mounts.LoopAttacher
	mounter       mounts.Mounter
	storageDevice string
	kernelVersion func() (string, error)
	metrics       *otel.ResourceMetrics
}

// NewStore creates a Store from cfg.
func NewStore(cfg Config) *Store {
	s := &Store{
		paths:         cfg.Paths,
		boot:          cfg.Boot,
		engine:        cfg.Engine,
		loops:         cfg.Loops,
		mounter:       cfg.Mounter,
		storageDevice: cfg.StorageDevice,
		kernelVersion: cfg.KernelVersion,
		metrics:       cfg.Metrics,
	}
	if s.paths == nil {
		s.paths = paths.New("/")
	}
	if s.boot == nil {
		s.boot = bootcfg.Empty()
	}
	if cfg.Policy != nil {
		s.policy = *cfg.Policy
	} else {
		s.policy = PolicyFromCommandLine(s.boot.Cmdline)
	}
	if s.engine == nil {
		s.engine = &verity.VeritySetup{}
	}
	if s.loops == nil {
		s.loops = mounts.System{}
	}
	if s.mounter == nil {
		s.mounter = mounts.System{}
	}
	if s.storageDevice == "" {
		s.storageDevice = DefaultStorageDevice
	}
	if s.kernelVersion == nil {
		s.kernelVersion = system.CurrentKernelVersion
	}
	s.keys = keys.NewResolver(s.boot)
	return s
}

func (s *Store) Paths() *paths.Paths     { return s.paths }
func (s *Store) Policy() Policy          { return s.policy }
func (s *Store) Mounter() mounts.Mounter { return s.mounter }
func (s *Store) Keys() *keys.Resolver    { return s.keys }

// Channel is the channel images are looked up in.
func (s *Store) Channel() string {
	return s.boot.Channel()
}
