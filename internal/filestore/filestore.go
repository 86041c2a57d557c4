// Package filestore abstracts blob storage for uploaded receipt documents.
package filestore

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
)

// ErrFileNotFound means no stored object exists under the given key.
var ErrFileNotFound = eris.New("file not found")

// FileStore stores and serves uploaded receipt files. Keys are opaque file
// ids generated by the upload path; the record store holds the key, never
// the URL.
type FileStore interface {
	// Upload stores the content of r under key with the given content type.
	Upload(ctx context.Context, key, contentType string, r io.Reader) error

	// GetDownloadURL returns a short-lived presigned URL for key, or
	// ErrFileNotFound if no such object exists.
	GetDownloadURL(ctx context.Context, key string) (string, error)

	// Delete removes the object under key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error
}
