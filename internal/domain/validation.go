package domain

// DomainValidation reports the outcome of a CNAME check for a custom domain.
// Produced fresh per validation call, never persisted.
type DomainValidation struct {
	IsValid     bool   `json:"is_valid"`
	CNAMERecord string `json:"cname_record,omitempty"`
	Error       string `json:"error,omitempty"`
}

// DomainAvailability reports whether a custom domain may be attached to a
// project, with the first failing reason when it may not.
type DomainAvailability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}
