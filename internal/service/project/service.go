// Package project manages project records: resolve-or-create during deploys,
// lookups, deploy history, and custom domain attachment.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/silvabyte/godeploy-sub000/internal/domain"
	"github.com/silvabyte/godeploy-sub000/internal/repository"
)

// DomainChecker gates custom domain attachment. Satisfied by domains.Service.
type DomainChecker interface {
	CheckAvailability(ctx context.Context, candidate, excludeProjectID string) (domain.DomainAvailability, error)
}

// ErrDomainUnavailable is returned by AttachDomain when the availability
// check rejects the domain. The wrapped message carries the reason.
var ErrDomainUnavailable = errors.New("domain unavailable")

var slugInvalid = regexp.MustCompile(`[^a-z0-9-]+`)

// Service manages projects.
type Service struct {
	projects repository.ProjectRepository
	deploys  repository.DeployRepository
	checker  DomainChecker
	logger   *slog.Logger
}

func New(projects repository.ProjectRepository, deploys repository.DeployRepository, checker DomainChecker, logger *slog.Logger) Service {
	return Service{projects: projects, deploys: deploys, checker: checker, logger: logger}
}

// Get returns a project by ID.
func (s Service) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	return s.projects.GetProjectByID(ctx, projectID)
}

// ResolveOrCreate looks up a project by name within the tenant, creating it
// with a generated subdomain when it does not exist yet. Deploys address
// projects by name so a first deploy bootstraps its project.
func (s Service) ResolveOrCreate(ctx context.Context, tenantID, ownerID, name string) (*domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}

	project, err := s.projects.GetProjectByName(ctx, name, tenantID)
	if err == nil {
		return project, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup project %q: %w", name, err)
	}

	subdomain, err := s.uniqueSubdomain(ctx, name)
	if err != nil {
		return nil, err
	}

	project = &domain.Project{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		OwnerID:   ownerID,
		Name:      name,
		Subdomain: subdomain,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		// Lost a race with a concurrent first deploy of the same name.
		if errors.Is(err, repository.ErrConflict) {
			return s.projects.GetProjectByName(ctx, name, tenantID)
		}
		return nil, fmt.Errorf("create project %q: %w", name, err)
	}
	if s.logger != nil {
		s.logger.Info("project created", "project_id", project.ID, "name", name, "subdomain", subdomain)
	}
	return project, nil
}

// ListDeploys returns the project's deploy history, newest first.
func (s Service) ListDeploys(ctx context.Context, projectID string, limit int) ([]domain.Deploy, error) {
	if _, err := s.projects.GetProjectByID(ctx, projectID); err != nil {
		return nil, err
	}
	return s.deploys.ListDeploysByProject(ctx, projectID, limit)
}

// AttachDomain sets a project's custom domain after the availability check
// passes. The project's own current domain does not count against it.
func (s Service) AttachDomain(ctx context.Context, projectID, customDomain string) (*domain.Project, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	availability, err := s.checker.CheckAvailability(ctx, customDomain, projectID)
	if err != nil {
		return nil, fmt.Errorf("check domain availability: %w", err)
	}
	if !availability.Available {
		return nil, fmt.Errorf("%w: %s", ErrDomainUnavailable, availability.Reason)
	}

	normalized := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(customDomain)), ".")
	if err := s.projects.SetCustomDomain(ctx, projectID, normalized); err != nil {
		return nil, fmt.Errorf("set custom domain: %w", err)
	}
	project.CustomDomain = normalized
	return project, nil
}

// Slugify turns a project name into a subdomain-safe slug.
func Slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.ReplaceAll(slug, "_", "-")
	slug = slugInvalid.ReplaceAllString(slug, "")
	slug = strings.Trim(slug, "-")
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	if slug == "" {
		slug = "site"
	}
	return slug
}

func (s Service) uniqueSubdomain(ctx context.Context, name string) (string, error) {
	base := Slugify(name)
	candidate := base
	for attempt := 0; attempt < 5; attempt++ {
		_, err := s.projects.GetProjectBySubdomain(ctx, candidate)
		if errors.Is(err, repository.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("check subdomain %q: %w", candidate, err)
		}
		candidate = base + "-" + uuid.NewString()[:8]
	}
	return "", fmt.Errorf("could not find a free subdomain for %q", name)
}
