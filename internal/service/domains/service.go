// Package domains validates custom domains before they may be attached to a
// project: syntactic format checks, CNAME verification against the platform
// ingress target, and availability across projects.
package domains

import (
	"context"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/silvabyte/godeploy-sub000/internal/domain"
	"github.com/silvabyte/godeploy-sub000/internal/repository"
)

// Resolver abstracts CNAME lookup so tests can run without real DNS.
type Resolver interface {
	LookupCNAME(ctx context.Context, host string) (string, error)
}

type netResolver struct {
	resolver *net.Resolver
}

func (r netResolver) LookupCNAME(ctx context.Context, host string) (string, error) {
	return r.resolver.LookupCNAME(ctx, host)
}

const maxDomainLength = 253

var (
	labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
	tldPattern   = regexp.MustCompile(`^[a-z]{2,}$`)
)

// Service validates custom domains.
type Service struct {
	projects repository.ProjectRepository
	resolver Resolver
	target   string
	timeout  time.Duration
	logger   *slog.Logger
}

// New returns a domain validation service. cnameTarget is the platform
// hostname a tenant's CNAME record must point at.
func New(projects repository.ProjectRepository, resolver Resolver, cnameTarget string, dnsTimeout time.Duration, logger *slog.Logger) Service {
	if resolver == nil {
		resolver = netResolver{resolver: net.DefaultResolver}
	}
	if dnsTimeout <= 0 {
		dnsTimeout = 5 * time.Second
	}
	return Service{
		projects: projects,
		resolver: resolver,
		target:   normalizeHost(cnameTarget),
		timeout:  dnsTimeout,
		logger:   logger,
	}
}

// Normalize lowercases and trims a candidate domain.
func Normalize(candidate string) string {
	return normalizeHost(candidate)
}

// IsValidFormat reports whether the candidate is a syntactically valid
// hostname: bounded length, valid labels, and a TLD-looking final label.
func (s Service) IsValidFormat(candidate string) bool {
	host := normalizeHost(candidate)
	if host == "" || len(host) > maxDomainLength {
		return false
	}
	if strings.ContainsAny(host, "/:?#@ ") {
		return false
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if label == "" || len(label) > 63 {
			return false
		}
		if !labelPattern.MatchString(label) {
			return false
		}
	}
	return tldPattern.MatchString(labels[len(labels)-1])
}

// ValidateCNAME resolves the domain's CNAME record and compares it against
// the platform target. A missing record and a failed lookup are the same
// observable outcome, not a system error: misconfigured DNS is an expected
// state while a tenant is setting up.
func (s Service) ValidateCNAME(ctx context.Context, candidate string) domain.DomainValidation {
	host := normalizeHost(candidate)
	if !s.IsValidFormat(host) {
		return domain.DomainValidation{IsValid: false, Error: "invalid domain format"}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	record, err := s.resolver.LookupCNAME(lookupCtx, host)
	if err != nil || record == "" {
		if err != nil && s.logger != nil {
			s.logger.Debug("cname lookup failed", "domain", host, "error", err)
		}
		return domain.DomainValidation{IsValid: false, Error: "no CNAME record found"}
	}

	observed := normalizeHost(record)
	if observed == host {
		// LookupCNAME echoes the queried name when no CNAME chain exists.
		return domain.DomainValidation{IsValid: false, Error: "no CNAME record found"}
	}
	if observed != s.target {
		return domain.DomainValidation{
			IsValid:     false,
			CNAMERecord: observed,
			Error:       "CNAME record does not point to " + s.target,
		}
	}
	return domain.DomainValidation{IsValid: true, CNAMERecord: observed}
}

// CheckAvailability reports whether the domain may be attached to a project.
// A domain held by another project is unavailable even when its CNAME is
// correct; the in-use reason wins so users are not told to fix DNS for a
// domain they can never claim. excludeProjectID lets a project re-save its
// own unchanged domain.
func (s Service) CheckAvailability(ctx context.Context, candidate, excludeProjectID string) (domain.DomainAvailability, error) {
	host := normalizeHost(candidate)
	if !s.IsValidFormat(host) {
		return domain.DomainAvailability{Available: false, Reason: "invalid domain format"}, nil
	}

	free, err := s.projects.IsDomainAvailable(ctx, host, excludeProjectID)
	if err != nil {
		return domain.DomainAvailability{}, err
	}
	if !free {
		return domain.DomainAvailability{Available: false, Reason: "domain is already in use by another project"}, nil
	}

	validation := s.ValidateCNAME(ctx, host)
	if !validation.IsValid {
		return domain.DomainAvailability{Available: false, Reason: validation.Error}, nil
	}
	return domain.DomainAvailability{Available: true}, nil
}

func normalizeHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}
