// Package storage delivers completed conversion outputs to their final
// destination. It defines the Archiver port and implementations for a local
// archive directory and S3.
package storage

import "context"

// Archiver receives finished output files from the orchestrator. ArchiveFile
// returns the location the output was delivered to (a filesystem path or an
// object URL). Delivery failures surface in the item log; they never fail
// the conversion itself.
type Archiver interface {
	ArchiveFile(ctx context.Context, key, srcPath string) (location string, err error)
}
