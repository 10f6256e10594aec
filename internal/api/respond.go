package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"parkly/internal/models"
)

type errorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Balance string `json:"balance,omitempty"`
}

var kindStatus = map[models.Kind]int{
	models.KindValidation:     http.StatusBadRequest,
	models.KindNotFound:       http.StatusNotFound,
	models.KindConflict:       http.StatusConflict,
	models.KindConsistency:    http.StatusConflict,
	models.KindInfrastructure: http.StatusServiceUnavailable,
	models.KindForbidden:      http.StatusForbidden,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders a domain error with the status of its kind.
// Internal errors are not echoed to the client.
func writeError(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Kind: string(models.KindInternal)})
		return
	}

	resp := errorResponse{Error: err.Error(), Kind: string(kind)}
	if unsettled, ok := models.IsBalanceNotSettled(err); ok {
		resp.Balance = models.FormatMoney(unsettled.Balance)
	}
	writeJSON(w, status, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: request body: %v", models.ErrInvalidInput, err)
	}
	return nil
}
