// Package vfs emulates a folder tree on top of a flat object store: paths,
// marker-object folders, listings, recursive collection and the multi-step
// mutations (create, upload, rename, move, delete) built from the store's
// four primitives.
package vfs

import (
	"sort"
	"strings"
	"time"
)

// Kind tells a file item from a folder item in mutation requests.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// FileEntry is a stored object surfaced to clients.
type FileEntry struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      Path      `json:"path"`
	Size      int64     `json:"size"`
	MimeType  string    `json:"mime_type"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	AccountID string    `json:"account_id"`
}

// IsImage reports whether the entry can be picked by the gallery.
func (f FileEntry) IsImage() bool {
	return strings.HasPrefix(f.MimeType, "image/")
}

// FolderEntry is a container derived from a key prefix.
type FolderEntry struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       Path      `json:"path"`
	ParentPath Path      `json:"parent_path"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	AccountID  string    `json:"account_id"`
}

// Listing is the immediate content of one folder.
type Listing struct {
	Path    Path          `json:"path"`
	Files   []FileEntry   `json:"files"`
	Folders []FolderEntry `json:"folders"`
}

// Paths returns every entry path of the listing, folders first.
func (l *Listing) Paths() []Path {
	paths := make([]Path, 0, len(l.Folders)+len(l.Files))
	for _, f := range l.Folders {
		paths = append(paths, f.Path)
	}
	for _, f := range l.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// Sort orders folders and files by name. The store guarantees no order.
func (l *Listing) Sort() {
	sort.Slice(l.Folders, func(i, j int) bool {
		return strings.ToLower(l.Folders[i].Name) < strings.ToLower(l.Folders[j].Name)
	})
	sort.Slice(l.Files, func(i, j int) bool {
		return strings.ToLower(l.Files[i].Name) < strings.ToLower(l.Files[j].Name)
	})
}

// Item addresses one entry in a delete or rename request.
type Item struct {
	Path Path `json:"path"`
	Kind Kind `json:"kind"`
}

// MoveItem addresses one entry in a move request; Name is its name at the
// destination.
type MoveItem struct {
	Path Path   `json:"path"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}
