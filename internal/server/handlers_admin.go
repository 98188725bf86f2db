package server

import (
	"mime/multipart"
	"net/http"

	"github.com/assistiq-ai/assistiq/internal/model"
	"github.com/assistiq-ai/assistiq/internal/upload"
)

// HandleUploadKnowledge ingests a knowledge-base spreadsheet: one row per
// (module, mandatory field) pair.
func (h *Handlers) HandleUploadKnowledge(w http.ResponseWriter, r *http.Request) {
	filename, file, ok := h.uploadedFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	rows, err := upload.ParseKnowledge(filename, file)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if len(rows) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "no usable rows in file")
		return
	}

	stats, err := h.store.UpsertModuleKnowledge(r.Context(), rows)
	if err != nil {
		h.logger.Error("upload: knowledge upsert failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not store knowledge rows")
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// HandleUploadSolvedTickets ingests a solved-ticket spreadsheet into the
// retrieval corpus, embedding each row.
func (h *Handlers) HandleUploadSolvedTickets(w http.ResponseWriter, r *http.Request) {
	filename, file, ok := h.uploadedFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	tickets, err := upload.ParseSolvedTickets(filename, file)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if len(tickets) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "no usable rows in file")
		return
	}

	upserted, err := h.corpus.UpsertSolvedTickets(r.Context(), tickets)
	if err != nil {
		h.logger.Error("upload: solved tickets upsert failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "could not store solved tickets")
		return
	}
	writeJSON(w, r, http.StatusOK, model.UpsertStats{
		RowsProcessed: len(tickets),
		RowsUpserted:  upserted,
	})
}

// uploadedFile extracts the "file" part of a multipart upload, writing the
// error response itself on failure.
func (h *Handlers) uploadedFile(w http.ResponseWriter, r *http.Request) (string, multipart.File, bool) {
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "expected multipart form upload")
		return "", nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "missing file field")
		return "", nil, false
	}
	return header.Filename, file, true
}
