package handler

import (
	"net/http"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

// MatrixSource exposes the price matrices.
type MatrixSource interface {
	Snapshots() []domain.MatrixSnapshot
}

// MatrixHandler serves price-matrix snapshots.
type MatrixHandler struct {
	matrices MatrixSource
}

// NewMatrixHandler creates a MatrixHandler.
func NewMatrixHandler(matrices MatrixSource) *MatrixHandler {
	return &MatrixHandler{matrices: matrices}
}

// ListMatrices returns a snapshot of every chain's matrix.
// GET /api/matrices
func (h *MatrixHandler) ListMatrices(w http.ResponseWriter, r *http.Request) {
	snaps := h.matrices.Snapshots()
	if snaps == nil {
		snaps = []domain.MatrixSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matrices": snaps})
}

// GetMatrix returns one matrix by id.
// GET /api/matrices/{id}
func (h *MatrixHandler) GetMatrix(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, s := range h.matrices.Snapshots() {
		if s.ID == id {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeError(w, http.StatusNotFound, "matrix not found")
}
