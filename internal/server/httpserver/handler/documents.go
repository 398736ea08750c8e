package handler

import (
	"encoding/json"
	"net/http"

	"github.com/qofy/quoteflow/internal/docstore"
)

// handleGetDocument handles GET /documents/{collection}/{key}.
func (h *Handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	coll := r.PathValue("collection")
	key := r.PathValue("key")

	rec, err := h.docs.Get(coll, key)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, docToResponse(rec))
}

// handlePutDocument handles PUT /documents/{collection}/{key}.
func (h *Handler) handlePutDocument(w http.ResponseWriter, r *http.Request) {
	coll := r.PathValue("collection")
	key := r.PathValue("key")

	var req PutDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "QF-SYS-4000", "invalid request body", nil)
		return
	}

	data, err := json.Marshal(req.Data)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "QF-SYS-4000", "invalid document payload", nil)
		return
	}

	rec, err := h.docs.Put(coll, key, data, req.BaseVersion)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, docToResponse(rec))
}

// handleDeleteDocument handles DELETE /documents/{collection}/{key}.
func (h *Handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	coll := r.PathValue("collection")
	key := r.PathValue("key")

	existed, err := h.docs.Delete(coll, key)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, DeleteDocumentResponse{Existed: existed})
}

func docToResponse(rec *docstore.Record) DocumentResponse {
	var data any
	_ = json.Unmarshal(rec.Data, &data)
	return DocumentResponse{
		Data:      data,
		Version:   rec.Version,
		Checksum:  rec.Checksum(),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}
