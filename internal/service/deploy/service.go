// Package deploy runs the deployment pipeline: archive staging, validation,
// extraction, site upload, and deploy record lifecycle.
package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/silvabyte/godeploy-sub000/internal/archive"
	"github.com/silvabyte/godeploy-sub000/internal/domain"
	"github.com/silvabyte/godeploy-sub000/internal/repository"
)

// Uploader pushes an extracted site tree to object storage. Satisfied by
// storage.Uploader.
type Uploader interface {
	UploadTree(ctx context.Context, treeRoot, keyPrefix string) error
}

// Broadcaster fans deploy status updates out to subscribers. Satisfied by
// ws.Hub.
type Broadcaster interface {
	Broadcast(projectID string, message []byte)
}

// ErrInvalidArchive wraps archive validation failures so the transport layer
// can map them to a client error.
var ErrInvalidArchive = errors.New("invalid archive")

var (
	deploysTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "godeploy",
		Name:      "deploys_total",
		Help:      "Deploy outcomes by terminal status.",
	}, []string{"status"})

	deployDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "godeploy",
		Name:      "deploy_duration_seconds",
		Help:      "Wall time of the deploy pipeline by terminal status.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
	}, []string{"status"})
)

func init() {
	for _, c := range []prometheus.Collector{deploysTotal, deployDuration} {
		if err := prometheus.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

// Service orchestrates deployments.
type Service struct {
	deploys       repository.DeployRepository
	staging       *archive.Staging
	validator     *archive.Validator
	uploader      Uploader
	hub           Broadcaster
	domainSuffix  string
	uploadTimeout time.Duration
	logger        *slog.Logger
}

type Config struct {
	// SiteDomainSuffix is appended to a project subdomain to form the
	// public site URL, e.g. ".godeploy.app".
	SiteDomainSuffix string
	// UploadTimeout bounds the storage upload phase of a deploy.
	UploadTimeout time.Duration
}

func New(deploys repository.DeployRepository, staging *archive.Staging, validator *archive.Validator, uploader Uploader, hub Broadcaster, cfg Config, logger *slog.Logger) Service {
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 10 * time.Minute
	}
	return Service{
		deploys:       deploys,
		staging:       staging,
		validator:     validator,
		uploader:      uploader,
		hub:           hub,
		domainSuffix:  cfg.SiteDomainSuffix,
		uploadTimeout: cfg.UploadTimeout,
		logger:        logger,
	}
}

// Get returns a deploy by ID.
func (s Service) Get(ctx context.Context, deployID string) (*domain.Deploy, error) {
	return s.deploys.GetDeployByID(ctx, deployID)
}

// SiteURL derives the public URL a deploy serves at.
func (s Service) SiteURL(project *domain.Project) string {
	if project.CustomDomain != "" {
		return "https://" + project.CustomDomain
	}
	return "https://" + project.Subdomain + s.domainSuffix
}

// StagedSite is a validated archive extracted into scratch space, ready to
// upload. It must be released with Discard.
type StagedSite struct {
	archivePath string
	siteDir     string
}

// Prepare stages and validates an archive without touching durable state.
// Callers run it before resolving or creating the target project, so a bad
// archive never persists anything. The returned site must be passed to Deploy
// or released with Discard.
func (s Service) Prepare(archiveData []byte) (*StagedSite, error) {
	archivePath, err := s.staging.Stage(archiveData)
	if err != nil {
		return nil, fmt.Errorf("stage archive: %w", err)
	}

	siteDir, err := s.validator.Validate(archivePath)
	if err != nil {
		s.cleanup(archivePath)
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	return &StagedSite{archivePath: archivePath, siteDir: siteDir}, nil
}

// Discard releases a staged site's scratch space. Safe to call more than
// once; a nil site is a no-op.
func (s Service) Discard(site *StagedSite) {
	if site == nil {
		return
	}
	s.cleanup(site.siteDir)
	s.cleanup(site.archivePath)
	site.siteDir = ""
	site.archivePath = ""
}

// Deploy uploads a prepared site and drives the deploy record lifecycle.
// The record is created pending before any upload starts, and moves to
// exactly one terminal status. Objects already uploaded when a deploy fails
// are left in place; the previous success record still points at the live
// site.
func (s Service) Deploy(ctx context.Context, project *domain.Project, userID string, site *StagedSite) (*domain.Deploy, error) {
	started := time.Now()
	defer s.Discard(site)

	record := &domain.Deploy{
		ID:        uuid.NewString(),
		TenantID:  project.TenantID,
		ProjectID: project.ID,
		UserID:    userID,
		URL:       s.SiteURL(project),
		Status:    domain.DeployStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	record.UpdatedAt = record.CreatedAt
	if err := s.deploys.CreateDeploy(ctx, record); err != nil {
		return nil, fmt.Errorf("create deploy record: %w", err)
	}
	s.broadcast(record.ProjectID, domain.DeployStatusUpdate{DeployID: record.ID, Status: record.Status})

	uploadCtx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()

	if err := s.uploader.UploadTree(uploadCtx, site.siteDir, project.StorageKey()); err != nil {
		s.finish(ctx, record, domain.DeployStatusFailed, err.Error(), started)
		return record, fmt.Errorf("upload site: %w", err)
	}

	s.finish(ctx, record, domain.DeployStatusSuccess, "", started)
	return record, nil
}

// finish records the terminal status. The repository refuses the update
// unless the record is still pending, so a second terminal transition is
// impossible even under races.
func (s Service) finish(ctx context.Context, record *domain.Deploy, status, errMsg string, started time.Time) {
	update := domain.DeployStatusUpdate{DeployID: record.ID, Status: status, Error: errMsg}
	if err := s.deploys.UpdateDeployStatus(ctx, update); err != nil {
		s.logger.Error("update deploy status",
			"deploy_id", record.ID, "status", status, "error", err)
	} else {
		record.Status = status
		record.Error = errMsg
	}
	s.broadcast(record.ProjectID, update)

	deploysTotal.WithLabelValues(status).Inc()
	deployDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
	s.logger.Info("deploy finished",
		"deploy_id", record.ID, "project_id", record.ProjectID,
		"status", status, "duration", time.Since(started))
}

func (s Service) broadcast(projectID string, update domain.DeployStatusUpdate) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return
	}
	s.hub.Broadcast(projectID, payload)
}

// cleanup removes scratch state. Failures are logged and swallowed: a leaked
// temp dir must never change the outcome of a deploy.
func (s Service) cleanup(path string) {
	if path == "" {
		return
	}
	if err := s.staging.Cleanup(path); err != nil {
		s.logger.Warn("scratch cleanup failed", "path", path, "error", err)
	}
}
