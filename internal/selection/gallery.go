package selection

import (
	"github.com/fruitsalade/mediafs/internal/vfs"
)

// Gallery is the picker used by features that attach images to something
// else. It holds at most a caller-supplied quota of images and keeps its
// picks while the user browses between folders.
type Gallery struct {
	quota    int
	order    []vfs.Path
	selected map[string]struct{}
}

// NewGallery creates a picker bounded by maxSelection - currentCount, the
// number of images the consuming feature can still accept.
func NewGallery(maxSelection, currentCount int) *Gallery {
	return &Gallery{
		quota:    max(maxSelection-currentCount, 0),
		selected: make(map[string]struct{}),
	}
}

// Quota returns the most images the picker will hold.
func (g *Gallery) Quota() int { return g.quota }

// Remaining returns how many more images can be picked.
func (g *Gallery) Remaining() int { return g.quota - len(g.order) }

// Restore re-selects previously picked paths, in order, up to the quota.
func (g *Gallery) Restore(paths []vfs.Path) {
	for _, p := range paths {
		if g.Remaining() == 0 {
			return
		}
		g.add(p)
	}
}

// Toggle flips an entry and reports whether it is now selected. Non-image
// entries are never selected. Selecting past the quota is a no-op.
func (g *Gallery) Toggle(f vfs.FileEntry) bool {
	k := f.Path.String()
	if _, ok := g.selected[k]; ok {
		g.remove(k)
		return false
	}
	if !f.IsImage() || g.Remaining() <= 0 {
		return false
	}
	g.add(f.Path)
	return true
}

func (g *Gallery) add(p vfs.Path) {
	k := p.String()
	if _, ok := g.selected[k]; ok {
		return
	}
	g.selected[k] = struct{}{}
	g.order = append(g.order, p)
}

func (g *Gallery) remove(k string) {
	delete(g.selected, k)
	for i, p := range g.order {
		if p.String() == k {
			g.order = append(g.order[:i], g.order[i+1:]...)
			return
		}
	}
}

// Contains reports whether p is selected.
func (g *Gallery) Contains(p vfs.Path) bool {
	_, ok := g.selected[p.String()]
	return ok
}

// Len returns the number of selected images.
func (g *Gallery) Len() int { return len(g.order) }

// Selected returns the picked paths in the order they were picked.
func (g *Gallery) Selected() []vfs.Path {
	out := make([]vfs.Path, len(g.order))
	copy(out, g.order)
	return out
}

// Selectable filters a listing down to the entries the picker accepts.
// Folders are navigation targets and are never returned.
func Selectable(l *vfs.Listing) []vfs.FileEntry {
	var out []vfs.FileEntry
	for _, f := range l.Files {
		if f.IsImage() {
			out = append(out, f)
		}
	}
	return out
}
