package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/carvalue/internal/core"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to a temporary file.
const multipartMemory = 32 << 20

// maxListedRuns caps GET /api/imports?limit=.
const maxListedRuns = 100

// ImportResponse is the JSON body returned after an import.
type ImportResponse struct {
	Run *core.ImportRun `json:"run"`
}

// handleImportUpload imports an uploaded feed file (form field "file").
// Optional fields: dry_run (bool) and batch_size (int).
func (s *Server) handleImportUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxUploadSize)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, r, err, http.StatusRequestEntityTooLarge)
			return
		}
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, core.ErrNoSource, http.StatusBadRequest)
		return
	}
	defer file.Close()

	opts := core.ImportOptions{
		Source:      header.Filename,
		SourceLabel: header.Filename,
		Size:        header.Size,
	}
	var errs core.ValidationErrors
	if v := r.FormValue("dry_run"); v != "" {
		if opts.DryRun, err = strconv.ParseBool(v); err != nil {
			errs = append(errs, core.ValidationError{Field: "dry_run", Value: v, Message: "Dry run must be true or false."})
		}
	}
	if v := r.FormValue("batch_size"); v != "" {
		if opts.BatchSize, err = strconv.Atoi(v); err != nil || opts.BatchSize < 1 {
			errs = append(errs, core.ValidationError{Field: "batch_size", Value: v, Message: "Batch size must be a positive number."})
		}
	}
	if len(errs) > 0 {
		respondValidation(w, errs)
		return
	}

	run, err := s.service.RunImport(withRequester(r), file, opts)
	switch {
	case errors.Is(err, core.ErrImportInProgress):
		s.respondError(w, r, err, http.StatusConflict)
		return
	case err != nil:
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ImportResponse{Run: run})
}

// ImportListResponse is the JSON body of GET /api/imports.
type ImportListResponse struct {
	Active []core.ActiveImport `json:"active"`
	Runs   []core.ImportRun    `json:"runs"`
}

// handleListImports lists running imports and the recent run history.
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondValidation(w, core.ValidationErrors{{Field: "limit", Value: v, Message: "Limit must be a positive number."}})
			return
		}
		limit = min(n, maxListedRuns)
	}

	runs, err := s.service.ImportRuns(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ImportListResponse{Active: s.service.ActiveImports(), Runs: runs})
}
