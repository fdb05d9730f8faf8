package domain

import "time"

// Project is a publish target owned by a tenant.
type Project struct {
	ID           string
	TenantID     string
	OwnerID      string
	Name         string
	Subdomain    string
	CustomDomain string
	Description  string
	CreatedAt    time.Time
}

// StorageKey derives the object-storage key segment for the project's
// current deploy. The custom domain wins when set so a re-pointed project
// publishes under its final hostname; otherwise the generated subdomain is
// used. The derivation is deterministic so re-deploys overwrite in place.
func (p Project) StorageKey() string {
	if p.CustomDomain != "" {
		return p.CustomDomain
	}
	return p.Subdomain
}
