// Package protocol defines the API request/response types.
package protocol

import (
	"github.com/fruitsalade/mediafs/internal/optimizer"
	"github.com/fruitsalade/mediafs/internal/vfs"
)

// ErrorResponse is returned on API errors. RequestID matches the
// server's log entries for the failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      int    `json:"code"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ListResponse is returned by GET /api/v1/media/list/{path...}
type ListResponse struct {
	Path        vfs.Path          `json:"path"`
	Breadcrumbs []vfs.Breadcrumb  `json:"breadcrumbs"`
	Folders     []vfs.FolderEntry `json:"folders"`
	Files       []vfs.FileEntry   `json:"files"`
	Selected    []vfs.Path        `json:"selected"`
}

// CreateFolderRequest is the body for POST /api/v1/media/folders
type CreateFolderRequest struct {
	Parent vfs.Path `json:"parent"`
	Name   string   `json:"name"`
}

// RenameRequest is the body for POST /api/v1/media/rename
type RenameRequest struct {
	Path vfs.Path `json:"path"`
	Kind vfs.Kind `json:"kind"`
	Name string   `json:"name"`
}

// RenameResponse reports where a renamed item now lives.
type RenameResponse struct {
	Path    vfs.Path `json:"path"`
	NewPath vfs.Path `json:"new_path"`
}

// MoveRequest is the body for POST /api/v1/media/move
type MoveRequest struct {
	Items       []vfs.MoveItem `json:"items"`
	Destination vfs.Path       `json:"destination"`
}

// DeleteRequest is the body for POST /api/v1/media/delete. With Selection
// set, the items are taken from the caller's current folder selection.
type DeleteRequest struct {
	Items     []vfs.Item `json:"items"`
	Selection bool       `json:"selection,omitempty"`
}

// BatchResponse is returned by upload, move and delete.
type BatchResponse struct {
	Operation string           `json:"operation"`
	Items     []vfs.ItemResult `json:"items"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}

// NewBatchResponse summarizes a batch result.
func NewBatchResponse(b *vfs.BatchResult) BatchResponse {
	failed := len(b.Failed())
	return BatchResponse{
		Operation: b.Operation,
		Items:     b.Items,
		Succeeded: len(b.Items) - failed,
		Failed:    failed,
	}
}

// Selection actions.
const (
	SelectToggle = "toggle"
	SelectAll    = "all"
	SelectClear  = "clear"
)

// SelectionRequest is the body for POST /api/v1/media/selection
type SelectionRequest struct {
	Action string   `json:"action"`
	Path   vfs.Path `json:"path"`
}

// SelectionResponse describes the caller's folder selection.
type SelectionResponse struct {
	Folder   vfs.Path   `json:"folder"`
	Selected []vfs.Path `json:"selected"`
}

// PickerRequest is the body for POST /api/v1/media/picker. The picker is
// stateless: the client sends back what it has picked so far.
type PickerRequest struct {
	Folder       vfs.Path   `json:"folder"`
	MaxSelection int        `json:"max_selection"`
	CurrentCount int        `json:"current_count"`
	Selected     []vfs.Path `json:"selected"`
	Toggle       *vfs.Path  `json:"toggle,omitempty"`
}

// PickerResponse lists a folder for the picker along with the picks.
type PickerResponse struct {
	Folder      vfs.Path          `json:"folder"`
	Breadcrumbs []vfs.Breadcrumb  `json:"breadcrumbs"`
	Folders     []vfs.FolderEntry `json:"folders"`
	Images      []vfs.FileEntry   `json:"images"`
	Selected    []vfs.Path        `json:"selected"`
	Remaining   int               `json:"remaining"`
}

// PresetsResponse is returned by GET /api/v1/media/presets
type PresetsResponse struct {
	Default string             `json:"default"`
	Presets []optimizer.Preset `json:"presets"`
}
