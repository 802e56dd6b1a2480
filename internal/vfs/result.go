package vfs

import (
	"encoding/json"
	"errors"

	"github.com/fruitsalade/mediafs/internal/metrics"
)

// ItemResult is the outcome of one item of a batch operation.
type ItemResult struct {
	Path Path
	// Target is where the item ended up (upload destination, move target).
	Target Path
	// File is set for successful uploads.
	File *FileEntry
	Err  error
}

// OK reports whether the item succeeded.
func (r ItemResult) OK() bool { return r.Err == nil }

// MarshalJSON renders Err as a string.
func (r ItemResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Path   Path       `json:"path"`
		Target *Path      `json:"target,omitempty"`
		File   *FileEntry `json:"file,omitempty"`
		OK     bool       `json:"ok"`
		Error  string     `json:"error,omitempty"`
	}{Path: r.Path, File: r.File, OK: r.OK()}
	if !r.Target.IsRoot() {
		out.Target = &r.Target
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a result rendered by MarshalJSON. A failed item gets
// an opaque error carrying the original message.
func (r *ItemResult) UnmarshalJSON(data []byte) error {
	var in struct {
		Path   Path       `json:"path"`
		Target *Path      `json:"target"`
		File   *FileEntry `json:"file"`
		OK     bool       `json:"ok"`
		Error  string     `json:"error"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = ItemResult{Path: in.Path, File: in.File}
	if in.Target != nil {
		r.Target = *in.Target
	}
	if !in.OK {
		msg := in.Error
		if msg == "" {
			msg = "item failed"
		}
		r.Err = errors.New(msg)
	}
	return nil
}

// BatchResult is the ordered per-item outcome list of a batch operation.
// Items are in request order.
type BatchResult struct {
	Operation string       `json:"operation"`
	Items     []ItemResult `json:"items"`
}

func newBatch(op string, n int) *BatchResult {
	return &BatchResult{Operation: op, Items: make([]ItemResult, 0, n)}
}

// Succeeded returns the items that succeeded.
func (b *BatchResult) Succeeded() []ItemResult {
	var out []ItemResult
	for _, it := range b.Items {
		if it.OK() {
			out = append(out, it)
		}
	}
	return out
}

// Failed returns the items that failed.
func (b *BatchResult) Failed() []ItemResult {
	var out []ItemResult
	for _, it := range b.Items {
		if !it.OK() {
			out = append(out, it)
		}
	}
	return out
}

// Err returns a *PartialBatchError when any item failed, nil otherwise.
func (b *BatchResult) Err() error {
	failed := b.Failed()
	if len(failed) == 0 {
		return nil
	}
	return &PartialBatchError{Operation: b.Operation, Failed: failed, Total: len(b.Items)}
}

func (b *BatchResult) record() {
	failed := len(b.Failed())
	metrics.RecordBatch(b.Operation, len(b.Items)-failed, failed)
}
