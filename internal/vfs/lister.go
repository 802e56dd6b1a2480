package vfs

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fruitsalade/mediafs/internal/logging"
	"github.com/fruitsalade/mediafs/internal/storage"
)

// URLFunc maps an object key to the URL clients fetch it from.
type URLFunc func(key string) string

// PublicURL returns a URLFunc that joins baseURL and the key.
func PublicURL(baseURL string) URLFunc {
	base := strings.TrimSuffix(baseURL, "/")
	return func(key string) string {
		return base + "/" + key
	}
}

// Lister reads one folder level per call. It keeps no state between calls.
type Lister struct {
	store storage.Backend
	url   URLFunc
}

// NewLister creates a Lister. url may be nil, in which case entries carry no URL.
func NewLister(store storage.Backend, url URLFunc) *Lister {
	if url == nil {
		url = func(string) string { return "" }
	}
	return &Lister{store: store, url: url}
}

// List returns the immediate files and folders of p with a single
// ListChildren call. Marker objects are never surfaced.
func (l *Lister) List(ctx context.Context, accountID string, p Path) (*Listing, error) {
	objs, err := l.store.ListChildren(ctx, ListPrefix(accountID, p))
	if err != nil {
		logging.WithContext(ctx).Warn("listing failed",
			zap.String("account", accountID),
			zap.Stringer("path", p),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	listing := &Listing{
		Path:    p,
		Files:   make([]FileEntry, 0, len(objs)),
		Folders: make([]FolderEntry, 0),
	}
	// A flat store can hold a file "a" next to keys under "a/", so a name
	// is unique only together with its kind.
	type seenKey struct {
		name      string
		container bool
	}
	seen := make(map[seenKey]struct{}, len(objs))
	for _, obj := range objs {
		if IsMarker(obj.Name) {
			continue
		}
		child, err := p.Child(obj.Name)
		if err != nil {
			// A key this layer could never have produced.
			logging.WithContext(ctx).Debug("skipping unaddressable object", zap.String("name", obj.Name))
			continue
		}
		k := seenKey{obj.Name, obj.IsContainer}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		if obj.IsContainer {
			listing.Folders = append(listing.Folders, FolderEntry{
				ID:         obj.Name,
				Name:       obj.Name,
				Path:       child,
				ParentPath: p,
				CreatedAt:  obj.CreatedAt,
				UpdatedAt:  obj.UpdatedAt,
				AccountID:  accountID,
			})
			continue
		}
		listing.Files = append(listing.Files, l.fileEntry(accountID, child, obj))
	}
	return listing, nil
}

func (l *Lister) fileEntry(accountID string, p Path, obj storage.Object) FileEntry {
	key := FullKey(accountID, p)
	return FileEntry{
		ID:        key,
		Name:      obj.Name,
		Path:      p,
		Size:      obj.Size,
		MimeType:  obj.MimeType,
		URL:       l.url(key),
		CreatedAt: obj.CreatedAt,
		UpdatedAt: obj.UpdatedAt,
		AccountID: accountID,
	}
}
