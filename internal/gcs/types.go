package gcs

import (
	"context"
)

// StorageService provides an interface for cloud storage operations.
// This interface enables mocking and testing of storage functionality.
type StorageService interface {
	// Fetch downloads object bytes from a gs:// URI.
	Fetch(ctx context.Context, uri string) ([]byte, error)

	// Upload writes data to a gs:// URI, replacing any existing object.
	Upload(ctx context.Context, uri string, data []byte, contentType string) error
}
