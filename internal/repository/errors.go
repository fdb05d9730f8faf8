package repository

import "errors"

// ErrNotFound indicates an entity was not located. Not-found is a valid
// lookup outcome, distinct from a repository failure.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates a uniqueness constraint was violated, such as a
// subdomain or custom domain already taken by another project.
var ErrConflict = errors.New("repository: conflict")
