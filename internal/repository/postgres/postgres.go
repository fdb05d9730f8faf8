package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/silvabyte/godeploy-sub000/internal/domain"
	"github.com/silvabyte/godeploy-sub000/internal/repository"
)

const uniqueViolation = "23505"

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var (
	_ repository.ProjectRepository = (*Repository)(nil)
	_ repository.DeployRepository  = (*Repository)(nil)
)

// CreateProject inserts a project. Subdomain and custom-domain uniqueness is
// enforced by the schema and surfaced as ErrConflict.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, tenant_id, owner_id, name, subdomain, custom_domain, description, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`
	_, err := r.pool.Exec(ctx, query, project.ID, project.TenantID, project.OwnerID, project.Name,
		project.Subdomain, project.CustomDomain, project.Description, project.CreatedAt)
	return mapConstraintError(err)
}

// GetProjectByID retrieves a project by identifier.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT id, tenant_id, owner_id, name, subdomain, COALESCE(custom_domain, ''), description, created_at
		FROM projects WHERE id = $1`
	return r.scanProject(r.pool.QueryRow(ctx, query, projectID))
}

// GetProjectByName retrieves a project by name within a tenant.
func (r *Repository) GetProjectByName(ctx context.Context, name, tenantID string) (*domain.Project, error) {
	const query = `SELECT id, tenant_id, owner_id, name, subdomain, COALESCE(custom_domain, ''), description, created_at
		FROM projects WHERE name = $1 AND tenant_id = $2`
	return r.scanProject(r.pool.QueryRow(ctx, query, name, tenantID))
}

// GetProjectBySubdomain retrieves a project by its generated subdomain slug.
func (r *Repository) GetProjectBySubdomain(ctx context.Context, subdomain string) (*domain.Project, error) {
	const query = `SELECT id, tenant_id, owner_id, name, subdomain, COALESCE(custom_domain, ''), description, created_at
		FROM projects WHERE subdomain = $1`
	return r.scanProject(r.pool.QueryRow(ctx, query, subdomain))
}

// IsDomainAvailable reports whether no other project holds the custom domain.
// An empty excludeProjectID excludes nothing.
func (r *Repository) IsDomainAvailable(ctx context.Context, customDomain, excludeProjectID string) (bool, error) {
	const query = `SELECT COUNT(1) FROM projects
		WHERE custom_domain = $1 AND ($2 = '' OR id <> $2::uuid)`
	var count int
	if err := r.pool.QueryRow(ctx, query, customDomain, excludeProjectID).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

// SetCustomDomain assigns a custom domain to a project.
func (r *Repository) SetCustomDomain(ctx context.Context, projectID, customDomain string) error {
	const query = `UPDATE projects SET custom_domain = NULLIF($2, '') WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, projectID, customDomain)
	if err != nil {
		return mapConstraintError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateDeploy inserts a deploy record.
func (r *Repository) CreateDeploy(ctx context.Context, deploy *domain.Deploy) error {
	const query = `INSERT INTO deploys (id, tenant_id, project_id, user_id, url, status, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query, deploy.ID, deploy.TenantID, deploy.ProjectID, deploy.UserID,
		deploy.URL, deploy.Status, deploy.Error, deploy.CreatedAt, deploy.UpdatedAt)
	return err
}

// UpdateDeployStatus applies the single pending-to-terminal transition. The
// WHERE clause keeps terminal states monotonic: a deploy already marked
// success or failed is never transitioned again.
func (r *Repository) UpdateDeployStatus(ctx context.Context, update domain.DeployStatusUpdate) error {
	const query = `UPDATE deploys SET status = $2, error = $3, updated_at = $4
		WHERE id = $1 AND status = 'pending'`
	tag, err := r.pool.Exec(ctx, query, update.DeployID, update.Status, update.Error, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetDeployByID retrieves a deploy record.
func (r *Repository) GetDeployByID(ctx context.Context, deployID string) (*domain.Deploy, error) {
	const query = `SELECT id, tenant_id, project_id, user_id, url, status, error, created_at, updated_at
		FROM deploys WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, deployID)
	var d domain.Deploy
	if err := row.Scan(&d.ID, &d.TenantID, &d.ProjectID, &d.UserID, &d.URL, &d.Status, &d.Error, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListDeploysByProject returns recent deploys ordered newest first.
func (r *Repository) ListDeploysByProject(ctx context.Context, projectID string, limit int) ([]domain.Deploy, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const query = `SELECT id, tenant_id, project_id, user_id, url, status, error, created_at, updated_at
		FROM deploys WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deploys []domain.Deploy
	for rows.Next() {
		var d domain.Deploy
		if err := rows.Scan(&d.ID, &d.TenantID, &d.ProjectID, &d.UserID, &d.URL, &d.Status, &d.Error, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		deploys = append(deploys, d)
	}
	return deploys, rows.Err()
}

func (r *Repository) scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	if err := row.Scan(&p.ID, &p.TenantID, &p.OwnerID, &p.Name, &p.Subdomain, &p.CustomDomain, &p.Description, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func mapConstraintError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return repository.ErrConflict
	}
	return err
}
