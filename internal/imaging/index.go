package imaging

import (
	"context"
	"fmt"

	"github.com/dermashare/backend/pkg/logger"
)

// RootFolder is the display bucket for images sitting directly under the
// namespace prefix with no folder segment.
const RootFolder = "root"

// Folder is one named carousel of signed image URLs, in listing order.
type Folder struct {
	Name string   `json:"name"`
	URLs []string `json:"urls"`
}

// FolderIndex is the virtual folder tree derived from flat object keys
// under one namespace prefix.
type FolderIndex struct {
	Folders []Folder `json:"folders"`
	// ConsentExists reports whether the consent record of the namespace's
	// consent owner is present. False on lookup failure: display-level
	// fail-closed, not an access control.
	ConsentExists bool `json:"consentExists"`
}

// Browser builds folder indexes from the object store.
type Browser struct {
	store ObjectStore
}

func NewBrowser(store ObjectStore) *Browser {
	return &Browser{store: store}
}

// BuildIndex lists the namespace one level deep, then each subfolder fully,
// and signs every retained image key. A failed listing is returned as an
// error so callers can distinguish it from an empty namespace.
func (b *Browser) BuildIndex(ctx context.Context, ns Namespace) (*FolderIndex, error) {
	prefix := ns.Prefix() + "/"

	rootKeys, folderNames, err := b.store.ListDir(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing namespace %s: %w", prefix, err)
	}

	index := &FolderIndex{}

	rootURLs, err := b.signImages(ctx, rootKeys)
	if err != nil {
		return nil, err
	}
	if len(rootURLs) > 0 {
		index.Folders = append(index.Folders, Folder{Name: RootFolder, URLs: rootURLs})
	}

	for _, folder := range folderNames {
		keys, err := b.store.List(ctx, prefix+folder+"/")
		if err != nil {
			return nil, fmt.Errorf("listing folder %s: %w", folder, err)
		}
		urls, err := b.signImages(ctx, keys)
		if err != nil {
			return nil, err
		}
		if len(urls) > 0 {
			index.Folders = append(index.Folders, Folder{Name: folder, URLs: urls})
		}
	}

	index.ConsentExists = b.consentExists(ctx, ns)
	return index, nil
}

func (b *Browser) signImages(ctx context.Context, keys []string) ([]string, error) {
	var urls []string
	for _, key := range keys {
		if !IsImageKey(key) {
			continue
		}
		url, err := b.store.SignedURL(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("signing %s: %w", key, err)
		}
		urls = append(urls, url)
	}
	return urls, nil
}

func (b *Browser) consentExists(ctx context.Context, ns Namespace) bool {
	exists, err := b.store.Exists(ctx, ConsentKey(ns.ConsentOwner()))
	if err != nil {
		logger.Warn("consent_check_failed", map[string]interface{}{
			"owner": ns.ConsentOwner(),
			"error": err.Error(),
		})
		return false
	}
	return exists
}

// ConsentExists exposes the consent flag on its own, for handlers that gate
// share and segmentation actions without rebuilding the whole index.
func (b *Browser) ConsentExists(ctx context.Context, email string) bool {
	return b.consentExists(ctx, OwnNamespace(email))
}
