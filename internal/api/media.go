package api

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/fruitsalade/mediafs/internal/auth"
	"github.com/fruitsalade/mediafs/internal/logging"
	"github.com/fruitsalade/mediafs/internal/optimizer"
	"github.com/fruitsalade/mediafs/internal/protocol"
	"github.com/fruitsalade/mediafs/internal/selection"
	"github.com/fruitsalade/mediafs/internal/vfs"
)

// multipartMemory is how much of an upload form is held in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

// handleList lists one folder and moves the caller's selection onto it.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountID(r.Context())
	p, err := pathParam(r)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}

	listing, err := s.lister.List(r.Context(), account, p)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	listing.Sort()

	var selected []vfs.Path
	s.sessions.with(account, func(sel *selection.Selection) {
		sel.Navigate(listing)
		selected = sel.Paths()
	})

	s.sendJSON(w, http.StatusOK, protocol.ListResponse{
		Path:        p,
		Breadcrumbs: p.Breadcrumbs(),
		Folders:     listing.Folders,
		Files:       listing.Files,
		Selected:    selected,
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	p, err := pathParam(r)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	usage, err := s.collector.Usage(r.Context(), auth.GetAccountID(r.Context()), p)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, usage)
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, protocol.PresetsResponse{
		Default: s.opts.DefaultPreset,
		Presets: s.presets.List(),
	})
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateFolderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	folder, err := s.mutator.CreateFolder(r.Context(), auth.GetAccountID(r.Context()), req.Parent, req.Name)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, folder)
}

// handleUpload accepts a multipart form with one or more "files" parts and
// an optional "preset" field.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountID(r.Context())
	dir, err := pathParam(r)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}

	// Every file may be at the ceiling; allow some room for form overhead.
	limit := int64(s.opts.MaxFiles)*s.opts.MaxUploadSize + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	presetName := r.FormValue("preset")
	if presetName == "" {
		presetName = s.opts.DefaultPreset
	}
	preset, ok := s.presets.Get(presetName)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "unknown preset "+presetName)
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.sendError(w, http.StatusBadRequest, "no files in request")
		return
	}
	if len(headers) > s.opts.MaxFiles {
		s.sendError(w, http.StatusBadRequest, "too many files in one upload")
		return
	}

	files := make([]optimizer.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "unreadable file "+fh.Filename)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "unreadable file "+fh.Filename)
			return
		}
		files = append(files, optimizer.File{Name: fh.Filename, Data: data})
	}

	res, err := s.mutator.Upload(r.Context(), account, dir, files, preset, nil)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.NewBatchResponse(res))
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req protocol.RenameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind == "" {
		req.Kind = vfs.KindFile
	}

	newPath, err := s.mutator.Rename(r.Context(), auth.GetAccountID(r.Context()), vfs.Item{Path: req.Path, Kind: req.Kind}, req.Name)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.RenameResponse{Path: req.Path, NewPath: newPath})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req protocol.MoveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		s.sendError(w, http.StatusBadRequest, "items required")
		return
	}

	res, err := s.mutator.Move(r.Context(), auth.GetAccountID(r.Context()), req.Items, req.Destination)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.NewBatchResponse(res))
}

// handleDelete deletes the listed items, or the caller's current folder
// selection when the request asks for it.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountID(r.Context())
	var req protocol.DeleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	items := req.Items
	var folder vfs.Path
	if req.Selection {
		s.sessions.with(account, func(sel *selection.Selection) {
			items = sel.Items()
			folder = sel.Folder()
		})
	}
	if len(items) == 0 {
		s.sendError(w, http.StatusBadRequest, "items required")
		return
	}

	res, err := s.mutator.Delete(r.Context(), account, items)
	if err != nil {
		s.sendFailure(w, r, err)
		return
	}

	if req.Selection {
		// Only confirmed deletions leave the selection.
		if listing, err := s.lister.List(r.Context(), account, folder); err == nil {
			s.sessions.with(account, func(sel *selection.Selection) { sel.Refresh(listing) })
		} else {
			logging.WithContext(r.Context()).Warn("selection refresh failed", zap.Error(err))
		}
	}
	s.sendJSON(w, http.StatusOK, protocol.NewBatchResponse(res))
}
