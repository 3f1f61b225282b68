package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rustyeddy/blockkit/compliance"
	"github.com/rustyeddy/blockkit/ledger"
	"github.com/rustyeddy/blockkit/manifest"
	"github.com/rustyeddy/blockkit/policy"
	"github.com/rustyeddy/blockkit/registry"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, field, msg string) {
	writeJSON(w, status, ErrorBody{Code: code, Field: field, Message: msg})
}

// writeErr maps domain errors onto status codes.
func writeErr(w http.ResponseWriter, log *slog.Logger, err error) {
	var se *manifest.SchemaError
	switch {
	case errors.As(err, &se):
		writeError(w, http.StatusUnprocessableEntity, string(se.Code), se.Field, se.Message)
	case errors.Is(err, policy.ErrInvalidSettings):
		writeError(w, http.StatusUnprocessableEntity, "invalid_settings", "", err.Error())
	case errors.Is(err, registry.ErrUnknownInstance), errors.Is(err, registry.ErrUnknownManifest):
		writeError(w, http.StatusNotFound, "not_found", "", err.Error())
	case errors.Is(err, registry.ErrInstanceExists):
		writeError(w, http.StatusConflict, "instance_exists", "", err.Error())
	case errors.Is(err, registry.ErrKindMismatch), errors.Is(err, registry.ErrNotActivatable),
		errors.Is(err, compliance.ErrWrongPolicyKind):
		writeError(w, http.StatusConflict, "kind_mismatch", "", err.Error())
	case errors.Is(err, compliance.ErrMissingProposalID):
		writeError(w, http.StatusBadRequest, "missing_proposal_id", "proposal_id", err.Error())
	case errors.Is(err, ledger.ErrLedgerCommitFailed):
		log.Error("ledger commit failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "ledger_commit_failed", "",
			"the proposal was accepted but not recorded; retry with the same proposal_id")
	case errors.Is(err, ledger.ErrLedgerUnavailable):
		log.Error("ledger unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "ledger_unavailable", "", "ledger unavailable, retry later")
	default:
		log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "", "internal error")
	}
}
