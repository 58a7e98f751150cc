// Package update installs resource images: kernel and extra images into
// the channel directory of persistent storage and rootfs images onto one
// of the A/B rootfs partitions.
package update

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/subgraph/citadel/lib/header"
	"github.com/subgraph/citadel/lib/logger"
	"github.com/subgraph/citadel/lib/otel"
	"github.com/subgraph/citadel/lib/partitions"
	"github.com/subgraph/citadel/lib/resources"
	"github.com/subgraph/citadel/lib/system"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sys/unix"
)

// Config holds the collaborators of an Installer.
type Config struct {
	Store      *resources.Store
	Partitions *partitions.Manager
	System     system.Manager
	// IsRoot reports whether the process may install images. Defaults to
	// an effective uid check.
	IsRoot  func() bool
	Metrics *otel.InstallMetrics
	Tracer  trace.Tracer
}

// Installer runs image installs.
type Installer struct {
	store      *resources.Store
	partitions *partitions.Manager
	system     system.Manager
	isRoot     func() bool
	metrics    *otel.InstallMetrics
	tracer     trace.Tracer
	handlers   map[header.ImageType]handler
}

// handler installs a prepared image. The staged file is owned by the
// handler once it is called.
type handler func(ctx context.Context, img *resources.Image, opts Options) (string, error)

// NewInstaller creates an Installer from cfg.
func NewInstaller(cfg Config) *Installer {
	i := &Installer{
		store:      cfg.Store,
		partitions: cfg.Partitions,
		system:     cfg.System,
		isRoot:     cfg.IsRoot,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
	}
	if i.partitions == nil {
		i.partitions = partitions.NewManager(nil, nil)
	}
	if i.system == nil {
		i.system = system.NewManager(i.store.Paths())
	}
	if i.isRoot == nil {
		i.isRoot = func() bool { return unix.Geteuid() == 0 }
	}
	i.handlers = map[header.ImageType]handler{
		header.ImageTypeKernel: i.installKernelImage,
		header.ImageTypeExtra:  i.installExtraImage,
		header.ImageTypeRootfs: i.installRootfsImage,
	}
	return i
}

// Partitions returns the rootfs partition manager.
func (i *Installer) Partitions() *partitions.Manager { return i.partitions }

// Install validates the image file at path, stages a copy of it in
// storage, prepares the copy and installs it according to its type. The
// file at path is never modified.
func (i *Installer) Install(ctx context.Context, path string, opts Options) (res *Result, err error) {
	start := time.Now()
	log := logger.FromContext(ctx).With("image", path)
	ctx = logger.AddToContext(ctx, log)

	imageType := "unknown"
	if i.tracer != nil {
		var span trace.Span
		ctx, span = i.tracer.Start(ctx, "InstallImage")
		defer func() {
			span.SetAttributes(attribute.String("image.type", imageType))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}
	defer func() {
		i.metrics.RecordInstall(ctx, imageType, time.Since(start), err)
		if err != nil {
			log.ErrorContext(ctx, "install failed", "error", err)
		}
	}()

	// 1. Validate
	h, mi, err := i.validate(path)
	if err != nil {
		return nil, err
	}
	imageType = string(mi.ImageType())
	install := i.handlers[mi.ImageType()]
	log.InfoContext(ctx, "installing image", "type", imageType, "channel", mi.Channel(), "version", mi.Version())
	opts.report(StageValidated, fmt.Sprintf("%s image version %d for channel %s", imageType, mi.Version(), mi.Channel()))

	mounted, err := i.store.EnsureStorageMounted(ctx)
	if err != nil {
		return nil, err
	}
	if !mounted {
		return nil, resources.ErrStorageUnavailable
	}
	if err := os.MkdirAll(i.store.Paths().Resources(), 0755); err != nil {
		return nil, fmt.Errorf("create resources directory: %w", err)
	}
	lock, err := acquireLock(i.store.Paths().InstallLock())
	if err != nil {
		return nil, err
	}
	defer func() {
		if lerr := lock.release(); lerr != nil {
			log.WarnContext(ctx, "failed to release install lock", "error", lerr)
		}
	}()

	// 2. Duplicate check
	if err := i.detectDuplicates(ctx, mi); err != nil {
		return nil, err
	}

	// 3. Stage copy
	staged, err := i.stageCopy(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if rerr := os.Remove(staged); rerr != nil && !os.IsNotExist(rerr) {
				log.WarnContext(ctx, "failed to remove staged image", "path", staged, "error", rerr)
			}
		}
	}()
	opts.report(StageStaged, staged)

	img, err := resources.NewImage(staged, h)
	if err != nil {
		return nil, err
	}

	// 4. Decompress, verify shasum, ensure hash tree
	if err := i.prepare(ctx, img, opts); err != nil {
		return nil, err
	}

	// 5. Dispatch
	dest, err := install(ctx, img, opts)
	if err != nil {
		return nil, err
	}
	log.InfoContext(ctx, "image installed", "destination", dest, "duration", time.Since(start))
	return &Result{
		Type:        mi.ImageType(),
		Channel:     mi.Channel(),
		Version:     mi.Version(),
		Destination: dest,
	}, nil
}

func (i *Installer) validate(path string) (*header.Header, *header.MetaInfo, error) {
	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		return nil, nil, fmt.Errorf("%w: %s", ErrSourceMissing, path)
	}
	if !i.isRoot() {
		return nil, nil, ErrNotRoot
	}
	h, err := header.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	mi, err := h.MetaInfo()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := header.ValidateChannel(mi.Channel()); err != nil {
		return nil, nil, err
	}
	if _, ok := i.handlers[mi.ImageType()]; !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedImageType, mi.ImageType())
	}
	return h, mi, nil
}

// stageCopy copies the source image into the staging directory of storage.
func (i *Installer) stageCopy(ctx context.Context, path string) (string, error) {
	dir := i.store.Paths().ResourcesTmp()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image file: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dir, "update-*.img")
	if err != nil {
		return "", fmt.Errorf("create temporary file in %s: %w", dir, err)
	}
	logger.FromContext(ctx).InfoContext(ctx, "copying image to temporary file", "path", tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("copy image to temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temporary file: %w", err)
	}
	return tmp.Name(), nil
}

// prepare decompresses the staged image, checks its shasum and makes sure
// it carries a hash tree.
func (i *Installer) prepare(ctx context.Context, img *resources.Image, opts Options) error {
	log := logger.FromContext(ctx)

	if img.IsCompressed() {
		if err := img.Decompress(ctx); err != nil {
			return err
		}
		opts.report(StageDecompressed, img.Path())
	}

	if opts.SkipSha {
		log.WarnContext(ctx, "skipping sha256 verification of image")
	} else {
		log.InfoContext(ctx, "verifying sha256 hash of image")
		if err := img.VerifyShasum(); err != nil {
			return err
		}
		opts.report(StageVerified, img.MetaInfo().Shasum())
	}

	if err := i.store.GenerateVerity(ctx, img); err != nil {
		return err
	}
	opts.report(StageIntegrity, img.Path())
	return nil
}

// ChoosePartition reports the rootfs partition the next install would use.
func (i *Installer) ChoosePartition(ctx context.Context, verbose bool) (*partitions.Partition, error) {
	return i.partitions.ChooseInstallPartition(ctx, verbose)
}
