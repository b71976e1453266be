package imaging

import (
	"context"
	"io"
)

// ObjectStore is the slice of the blob store the imaging workflows need.
// Keys are hierarchical strings; listing is by prefix. Derived objects live
// in a separate namespace written by the external segmentation processor.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)

	// Copy is a server-side copy inside the main namespace; CopyDerived
	// copies from the segmentation namespace into the main one.
	Copy(ctx context.Context, src, dst string) error
	CopyDerived(ctx context.Context, derivedKey, dst string) error

	Exists(ctx context.Context, key string) (bool, error)
	DerivedExists(ctx context.Context, derivedKey string) (bool, error)

	// List returns all keys under prefix in listing order. ListDir performs
	// a one-level delimiter listing returning root keys and immediate
	// subfolder names.
	List(ctx context.Context, prefix string) ([]string, error)
	ListDir(ctx context.Context, prefix string) (keys []string, folders []string, err error)

	// SignedURL returns a short-lived read URL for key. Consumers must treat
	// it as an expiring capability, never a stable identifier.
	SignedURL(ctx context.Context, key string) (string, error)
}
