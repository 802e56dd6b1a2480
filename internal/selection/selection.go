// Package selection tracks what a user has picked in a folder view and in
// the gallery picker. Neither type is safe for concurrent use; callers that
// share one across goroutines must guard it.
package selection

import (
	"sort"

	"github.com/fruitsalade/mediafs/internal/vfs"
)

// Selection is the set of entries picked in the currently displayed folder.
// It only ever holds paths returned by the latest listing of that folder.
type Selection struct {
	folder   vfs.Path
	listed   map[string]vfs.Kind
	selected map[string]vfs.Path
}

// New returns an empty selection on the root folder.
func New() *Selection {
	return &Selection{
		listed:   make(map[string]vfs.Kind),
		selected: make(map[string]vfs.Path),
	}
}

// Folder returns the folder the selection is scoped to.
func (s *Selection) Folder() vfs.Path { return s.folder }

// Navigate records a new listing as the current view. A listing of a
// different folder always empties the selection; a listing of the same
// folder behaves like Refresh.
func (s *Selection) Navigate(l *vfs.Listing) {
	if !l.Path.Equal(s.folder) {
		s.folder = l.Path
		s.Clear()
	}
	s.Refresh(l)
}

// Refresh replaces the known entries with a new listing of the current
// folder and drops selected paths that are no longer listed. A listing of
// another folder is treated as navigation.
func (s *Selection) Refresh(l *vfs.Listing) {
	if !l.Path.Equal(s.folder) {
		s.Navigate(l)
		return
	}
	s.listed = make(map[string]vfs.Kind, len(l.Files)+len(l.Folders))
	for _, f := range l.Folders {
		s.listed[f.Path.String()] = vfs.KindFolder
	}
	for _, f := range l.Files {
		s.listed[f.Path.String()] = vfs.KindFile
	}
	for k := range s.selected {
		if _, ok := s.listed[k]; !ok {
			delete(s.selected, k)
		}
	}
}

// Toggle flips p in or out of the selection and reports whether it is now
// selected. Paths not in the latest listing are ignored.
func (s *Selection) Toggle(p vfs.Path) bool {
	k := p.String()
	if _, ok := s.listed[k]; !ok {
		return false
	}
	if _, ok := s.selected[k]; ok {
		delete(s.selected, k)
		return false
	}
	s.selected[k] = p
	return true
}

// SelectAll selects every entry of l, navigating to it first if l lists a
// different folder.
func (s *Selection) SelectAll(l *vfs.Listing) {
	s.Navigate(l)
	for _, p := range l.Paths() {
		s.selected[p.String()] = p
	}
}

// Clear empties the selection.
func (s *Selection) Clear() {
	clear(s.selected)
}

// Contains reports whether p is selected.
func (s *Selection) Contains(p vfs.Path) bool {
	_, ok := s.selected[p.String()]
	return ok
}

// Len returns the number of selected entries.
func (s *Selection) Len() int { return len(s.selected) }

// Paths returns the selected paths sorted by name.
func (s *Selection) Paths() []vfs.Path {
	out := make([]vfs.Path, 0, len(s.selected))
	for _, p := range s.selected {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Items returns the selection as delete items, each with its listed kind.
func (s *Selection) Items() []vfs.Item {
	paths := s.Paths()
	out := make([]vfs.Item, len(paths))
	for i, p := range paths {
		out[i] = vfs.Item{Path: p, Kind: s.listed[p.String()]}
	}
	return out
}
