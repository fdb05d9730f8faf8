package repository

import (
	"context"

	"github.com/silvabyte/godeploy-sub000/internal/domain"
)

// ProjectRepository persists publish targets.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	GetProjectByName(ctx context.Context, name, tenantID string) (*domain.Project, error)
	GetProjectBySubdomain(ctx context.Context, subdomain string) (*domain.Project, error)
	IsDomainAvailable(ctx context.Context, customDomain, excludeProjectID string) (bool, error)
	SetCustomDomain(ctx context.Context, projectID, customDomain string) error
}

// DeployRepository stores deployment history.
type DeployRepository interface {
	CreateDeploy(ctx context.Context, deploy *domain.Deploy) error
	UpdateDeployStatus(ctx context.Context, update domain.DeployStatusUpdate) error
	GetDeployByID(ctx context.Context, deployID string) (*domain.Deploy, error)
	ListDeploysByProject(ctx context.Context, projectID string, limit int) ([]domain.Deploy, error)
}
