// Package upload publishes generated calendar files to a remote
// file-hosting backend and returns stable direct-download URLs.
package upload

import "context"

// Backend uploads calendar files. Implementations must overwrite an
// existing remote file at the same path idempotently and return a
// stable publicly fetchable URL per calendar.
type Backend interface {
	Name() string

	// Upload pushes every calendar. contents maps calendar name to ICS
	// bytes, paths maps calendar name to the local file path (which also
	// defines the remote path). Returns calendar name -> download URL.
	// Any single failure fails the whole upload.
	Upload(ctx context.Context, contents map[string][]byte, paths map[string]string) (map[string]string, error)
}
