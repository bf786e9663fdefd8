// Package artifacts defines the store for downloaded opinion documents.
// The abstraction keeps the pipeline independent of where document bytes
// live (local filesystem, Google Cloud Storage, or memory in tests).
package artifacts

import "context"

// Store persists and retrieves document artifacts by name. Names are
// slash-separated relative paths, date-partitioned by convention
// (e.g. "20250724/01-23-00751-CR_op.pdf").
type Store interface {
	// Put writes data under name and returns a URI for the stored object.
	Put(ctx context.Context, name string, data []byte) (string, error)

	// Get reads back the bytes previously stored under name.
	Get(ctx context.Context, name string) ([]byte, error)
}
