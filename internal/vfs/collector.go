package vfs

import (
	"context"
	"fmt"

	"github.com/fruitsalade/mediafs/internal/storage"
)

// Collector enumerates everything beneath a folder by depth-first prefix
// expansion. Each recursive call lists a strictly longer prefix, so the walk
// terminates.
type Collector struct {
	store storage.Backend
}

// NewCollector creates a Collector.
func NewCollector(store storage.Backend) *Collector {
	return &Collector{store: store}
}

// Leaf is one object found by a walk.
type Leaf struct {
	Key  string
	Path Path
	Size int64
}

// Usage summarizes a subtree.
type Usage struct {
	Path    Path  `json:"path"`
	Bytes   int64 `json:"bytes"`
	Files   int   `json:"files"`
	Folders int   `json:"folders"`
}

// CollectLeaves returns the key of every object under folder, including the
// folder's own marker and the marker of every descendant folder.
func (c *Collector) CollectLeaves(ctx context.Context, accountID string, folder Path) ([]string, error) {
	var keys []string
	err := c.walk(ctx, accountID, folder, func(l Leaf) {
		keys = append(keys, l.Key)
	}, nil)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Walk calls onLeaf for every object under folder and onFolder for every
// descendant container. Either callback may be nil.
func (c *Collector) Walk(ctx context.Context, accountID string, folder Path, onLeaf func(Leaf), onFolder func(Path)) error {
	return c.walk(ctx, accountID, folder, onLeaf, onFolder)
}

func (c *Collector) walk(ctx context.Context, accountID string, folder Path, onLeaf func(Leaf), onFolder func(Path)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	objs, err := c.store.ListChildren(ctx, ListPrefix(accountID, folder))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	for _, obj := range objs {
		child, err := folder.entry(obj.Name)
		if err != nil {
			continue
		}
		if obj.IsContainer {
			if onFolder != nil {
				onFolder(child)
			}
			if err := c.walk(ctx, accountID, child, onLeaf, onFolder); err != nil {
				return err
			}
			continue
		}
		if onLeaf != nil {
			onLeaf(Leaf{Key: FullKey(accountID, child), Path: child, Size: obj.Size})
		}
	}
	return nil
}

// Usage sums the bytes and counts the files and folders under folder.
// Marker objects are not counted as files.
func (c *Collector) Usage(ctx context.Context, accountID string, folder Path) (*Usage, error) {
	u := &Usage{Path: folder}
	err := c.walk(ctx, accountID, folder, func(l Leaf) {
		if IsMarker(l.Path.Name()) {
			return
		}
		u.Files++
		u.Bytes += l.Size
	}, func(Path) {
		u.Folders++
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}
