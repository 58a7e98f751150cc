// Package installer runs image installs as background jobs and exposes
// them, together with disk and partition listings, over HTTP.
package installer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/nrednav/cuid2"
	"github.com/subgraph/citadel/lib/disks"
	"github.com/subgraph/citadel/lib/logger"
	"github.com/subgraph/citadel/lib/otel"
	"github.com/subgraph/citadel/lib/paths"
	"github.com/subgraph/citadel/lib/update"
	"go.opentelemetry.io/otel/metric"
)

// Job status constants
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// InstallRequest asks for an image file to be installed.
type InstallRequest struct {
	Path     string `json:"path"`
	SkipSha  bool   `json:"skip_sha,omitempty"`
	NoPrefer bool   `json:"no_prefer,omitempty"`
}

// Job is a snapshot of an install job.
type Job struct {
	ID            string         `json:"id"`
	Request       InstallRequest `json:"request"`
	Status        string         `json:"status"`
	QueuePosition *int           `json:"queue_position,omitempty"`
	Result        *update.Result `json:"result,omitempty"`
	Error         *string        `json:"error,omitempty"`
	Events        []Event        `json:"events"`
	CreatedAt     time.Time      `json:"created_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
}

type job struct {
	id         string
	req        InstallRequest
	status     string
	result     *update.Result
	err        error
	createdAt  time.Time
	finishedAt *time.Time
	tracker    *ProgressTracker
}

// Config holds the collaborators of a Service.
type Config struct {
	Installer *update.Installer
	Paths     *paths.Paths
	Disks     *disks.Finder
	Meter     metric.Meter
	Metrics   *otel.InstallMetrics
}

// Service queues install jobs and answers queries about disks and
// partitions.
type Service struct {
	ctx       context.Context
	installer *update.Installer
	paths     *paths.Paths
	disks     *disks.Finder
	queue     *JobQueue

	mu   sync.RWMutex
	jobs map[string]*job
}

// NewService creates a Service. Jobs run with ctx, not with the context of
// the request that submitted them.
func NewService(ctx context.Context, cfg Config) (*Service, error) {
	s := &Service{
		ctx:       ctx,
		installer: cfg.Installer,
		paths:     cfg.Paths,
		disks:     cfg.Disks,
		queue:     NewJobQueue(1),
		jobs:      make(map[string]*job),
	}
	if s.disks == nil {
		s.disks = disks.NewFinder(s.paths, nil)
	}
	if cfg.Meter != nil && cfg.Metrics != nil {
		_, err := cfg.Meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(cfg.Metrics.QueueLength, int64(s.queue.PendingCount()))
			return nil
		}, cfg.Metrics.QueueLength)
		if err != nil {
			return nil, fmt.Errorf("register queue length callback: %w", err)
		}
	}
	return s, nil
}

// Submit queues an install job.
func (s *Service) Submit(ctx context.Context, req InstallRequest) (*Job, error) {
	if req.Path == "" || !filepath.IsAbs(req.Path) {
		return nil, fmt.Errorf("%w: path must be absolute", ErrInvalidRequest)
	}

	j := &job{
		id:        cuid2.Generate(),
		req:       req,
		status:    StatusQueued,
		createdAt: time.Now().UTC(),
	}
	j.tracker = NewProgressTracker(j.id)

	s.mu.Lock()
	s.jobs[j.id] = j
	s.mu.Unlock()

	pos := s.queue.Enqueue(j.id, func() { s.run(j) })
	logger.FromContext(ctx).InfoContext(ctx, "install job submitted", "job_id", j.id, "path", req.Path, "queue_position", pos)
	return s.Get(j.id)
}

func (s *Service) run(j *job) {
	defer s.queue.MarkComplete(j.id)
	defer j.tracker.Close()

	log := logger.FromContext(s.ctx).With("job_id", j.id)
	ctx := logger.AddToContext(s.ctx, log)

	s.setStatus(j, StatusRunning, nil, nil)
	j.tracker.Publish(EventStarted, j.req.Path)

	res, err := s.installer.Install(ctx, j.req.Path, update.Options{
		SkipSha:  j.req.SkipSha,
		NoPrefer: j.req.NoPrefer,
		Verbose:  true,
		Progress: func(stage update.Stage, message string) {
			j.tracker.Publish(string(stage), message)
		},
	})
	if err != nil {
		s.setStatus(j, StatusFailed, nil, err)
		j.tracker.Publish(EventFailed, err.Error())
		return
	}
	s.setStatus(j, StatusCompleted, res, nil)
	j.tracker.Publish(EventCompleted, res.Destination)
}

func (s *Service) setStatus(j *job, status string, res *update.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j.status = status
	if res != nil {
		j.result = res
	}
	if err != nil {
		j.err = err
	}
	if status == StatusCompleted || status == StatusFailed {
		now := time.Now().UTC()
		j.finishedAt = &now
	}
}

// Get returns a snapshot of the job with the given id.
func (s *Service) Get(id string) (*Job, error) {
	s.mu.RLock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	out := &Job{
		ID:         j.id,
		Request:    j.req,
		Status:     j.status,
		Result:     j.result,
		CreatedAt:  j.createdAt,
		FinishedAt: j.finishedAt,
	}
	if j.err != nil {
		msg := j.err.Error()
		out.Error = &msg
	}
	tracker := j.tracker
	s.mu.RUnlock()

	out.QueuePosition = s.queue.GetPosition(id)
	out.Events = tracker.History()
	return out, nil
}

// Subscribe streams the events of a job, starting with those already
// published. The channel is closed when the job finishes or ctx is done.
func (s *Service) Subscribe(ctx context.Context, id string) (chan Event, error) {
	s.mu.RLock()
	j, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return j.tracker.Subscribe(ctx)
}

// Wait blocks until the job finishes or ctx is done.
func (s *Service) Wait(ctx context.Context, id string) (*Job, error) {
	ch, err := s.Subscribe(ctx, id)
	if err != nil {
		return nil, err
	}
	for range ch {
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Get(id)
}

// Disks lists the disks an installer could target.
func (s *Service) Disks() ([]disks.Disk, error) {
	return disks.ProbeAll(s.paths)
}

// PartitionInfo describes one rootfs partition.
type PartitionInfo struct {
	Path        string `json:"path"`
	Mounted     bool   `json:"mounted"`
	Initialized bool   `json:"initialized"`
	Status      string `json:"status,omitempty"`
	Flags       string `json:"flags,omitempty"`
	Channel     string `json:"channel,omitempty"`
	Version     uint32 `json:"version,omitempty"`
}

// Partitions lists the rootfs partitions and their headers.
func (s *Service) Partitions(ctx context.Context) ([]PartitionInfo, error) {
	parts, err := s.installer.Partitions().RootfsPartitions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PartitionInfo, 0, len(parts))
	for _, p := range parts {
		info := PartitionInfo{
			Path:        p.Path(),
			Mounted:     p.IsMounted(),
			Initialized: p.IsInitialized(),
		}
		if h := p.Header(); h != nil {
			info.Status = h.Status().String()
			info.Flags = h.Flags().String()
			if mi, err := h.MetaInfo(); err == nil {
				info.Channel = mi.Channel()
				info.Version = mi.Version()
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// BootPartition returns the EFI system partition the system booted from.
func (s *Service) BootPartition(ctx context.Context) (string, error) {
	return s.disks.FindBootPartition(ctx)
}

// Bless marks the running rootfs partition as booted and returns its path,
// or "" when no partition qualified.
func (s *Service) Bless(ctx context.Context) (string, error) {
	p, err := s.installer.Bless(ctx)
	if err != nil || p == nil {
		return "", err
	}
	return p.Path(), nil
}
