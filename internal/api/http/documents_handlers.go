package http

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/edgelearn/lti-tutor/internal/docs"
)

var allowedUploadExts = map[string]bool{
	".pdf": true, ".txt": true, ".md": true, ".doc": true, ".docx": true,
}

// handleDocumentUpload ingests a course file for the launched resource.
// Multipart field name is "file".
func (s *Server) handleDocumentUpload(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	maxBytes := s.Cfg.MaxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "upload too large")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "file field required")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !allowedUploadExts[strings.ToLower(filepath.Ext(name))] {
		writeError(w, http.StatusBadRequest, "bad_extension", "allowed: pdf, txt, md, doc, docx")
		return
	}

	doc, err := s.Docs.Ingest(r.Context(), sess.ResourceLinkID, name, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ingest_failed", "could not store document")
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleDocumentList(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resourceID")
	list, err := s.Docs.List(r.Context(), resourceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "docs_store", "could not list documents")
		return
	}
	if list == nil {
		list = []docs.Document{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDocumentDelete(w http.ResponseWriter, r *http.Request) {
	err := s.Docs.Delete(r.Context(), chi.URLParam(r, "resourceID"), chi.URLParam(r, "docID"))
	if errors.Is(err, docs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "document not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "docs_store", "could not delete document")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
