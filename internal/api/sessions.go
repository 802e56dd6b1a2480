package api

import (
	"net/http"
	"sync"

	"github.com/fruitsalade/mediafs/internal/auth"
	"github.com/fruitsalade/mediafs/internal/protocol"
	"github.com/fruitsalade/mediafs/internal/selection"
	"github.com/fruitsalade/mediafs/internal/vfs"
)

// sessions holds one folder selection per account. A single mutex guards
// all of them; each critical section is a map lookup and a few set updates.
type sessions struct {
	mu    sync.Mutex
	byAcc map[string]*selection.Selection
}

func newSessions() *sessions {
	return &sessions{byAcc: make(map[string]*selection.Selection)}
}

// with runs fn on the account's selection while holding the lock.
func (ss *sessions) with(account string, fn func(*selection.Selection)) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	sel, ok := ss.byAcc[account]
	if !ok {
		sel = selection.New()
		ss.byAcc[account] = sel
	}
	fn(sel)
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountID(r.Context())
	var req protocol.SelectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var resp protocol.SelectionResponse
	switch req.Action {
	case protocol.SelectToggle:
		s.sessions.with(account, func(sel *selection.Selection) {
			sel.Toggle(req.Path)
			resp = selectionResponse(sel)
		})
	case protocol.SelectClear:
		s.sessions.with(account, func(sel *selection.Selection) {
			sel.Clear()
			resp = selectionResponse(sel)
		})
	case protocol.SelectAll:
		var folder vfs.Path
		s.sessions.with(account, func(sel *selection.Selection) { folder = sel.Folder() })
		listing, err := s.lister.List(r.Context(), account, folder)
		if err != nil {
			s.sendFailure(w, r, err)
			return
		}
		s.sessions.with(account, func(sel *selection.Selection) {
			sel.SelectAll(listing)
			resp = selectionResponse(sel)
		})
	default:
		s.sendError(w, http.StatusBadRequest, "action must be toggle, all or clear")
		return
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func selectionResponse(sel *selection.Selection) protocol.SelectionResponse {
	return protocol.SelectionResponse{Folder: sel.Folder(), Selected: sel.Paths()}
}

// handlePicker lists a folder for the gallery picker and applies at most one
// toggle. The client owns the picks and sends them back on every call, so
// they survive navigation between folders.
func (s *Server) handlePicker(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountID(r.Context())
	var req protocol.PickerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MaxSelection <= 0 {
		s.sendError(w, http.StatusBadRequest, "max_selection must be positive")
		return
	}

	listing, err := s.lister.List(r.Context(), account, req.Folder)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	listing.Sort()

	g := selection.NewGallery(req.MaxSelection, req.CurrentCount)
	g.Restore(req.Selected)
	images := selection.Selectable(listing)
	switch {
	case req.Toggle == nil:
	case g.Contains(*req.Toggle):
		// Deselecting works from any folder.
		g.Toggle(vfs.FileEntry{Path: *req.Toggle})
	default:
		for _, img := range images {
			if img.Path.Equal(*req.Toggle) {
				g.Toggle(img)
				break
			}
		}
	}

	s.sendJSON(w, http.StatusOK, protocol.PickerResponse{
		Folder:      req.Folder,
		Breadcrumbs: req.Folder.Breadcrumbs(),
		Folders:     listing.Folders,
		Images:      images,
		Selected:    g.Selected(),
		Remaining:   g.Remaining(),
	})
}
