// Package drive owns the set of mounted drives.
//
// The manager is the single authority over drive lifecycle: it validates and
// persists drive registrations, creates and tears down mounts, routes
// commands and OS callbacks to the addressed mount, and supplies the task
// queue's executors with per-drive transfer backends. No other component
// holds the drive set.
package drive

import (
	"errors"
	"strings"
)

// Errors returned by manager operations.
var (
	// ErrDriveNotFound is returned when addressing an unregistered drive.
	ErrDriveNotFound = errors.New("drive not found")

	// ErrDuplicatePath is returned when a drive's local root is already
	// claimed by another drive.
	ErrDuplicatePath = errors.New("local path already registered to another drive")

	// ErrInvalidCredential is returned when the drive's backend rejects
	// its credentials at registration time.
	ErrInvalidCredential = errors.New("backend credentials rejected")
)

// Health is a drive's current condition. When several conditions hold at
// once, the most severe one wins.
type Health string

const (
	HealthActive            Health = "active"
	HealthSyncing           Health = "syncing"
	HealthPaused            Health = "paused"
	HealthError             Health = "error"
	HealthCredentialExpired Health = "credential_expired"
)

// severityRank orders health values; higher is worse.
func severityRank(h Health) int {
	switch h {
	case HealthCredentialExpired:
		return 4
	case HealthError:
		return 3
	case HealthPaused:
		return 2
	case HealthSyncing:
		return 1
	default:
		return 0
	}
}

// MostSevere returns the worse of two health values.
func MostSevere(a, b Health) Health {
	if severityRank(b) > severityRank(a) {
		return b
	}
	return a
}

// Status is a point-in-time view of one drive, as exposed on the API.
type Status struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	LocalPath string `json:"local_path"`
	Backend   string `json:"backend"`
	Enabled   bool   `json:"enabled"`
	Health    Health `json:"health"`
	LastError string `json:"last_error,omitempty"`

	// Conflicts counts paths awaiting a resolution decision.
	Conflicts int `json:"conflicts"`
}

// credentialErrMarkers are substrings of backend errors that indicate
// rejected or expired credentials rather than a transient failure.
var credentialErrMarkers = []string{
	"AccessDenied",
	"InvalidAccessKeyId",
	"SignatureDoesNotMatch",
	"ExpiredToken",
	"credential",
}

// isCredentialError reports whether err looks like an auth failure.
func isCredentialError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range credentialErrMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
