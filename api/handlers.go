package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rustyeddy/blockkit/compliance"
	"github.com/rustyeddy/blockkit/ledger"
	"github.com/rustyeddy/blockkit/policy"
	"github.com/rustyeddy/blockkit/registry"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegisterManifest(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "", err.Error())
		return
	}
	reg, err := s.registry.Register(raw)
	if err != nil {
		writeErr(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// ActivateRequest binds a registered manifest to a policy.
type ActivateRequest struct {
	InstanceID     string          `json:"instance_id,omitempty"`
	ManifestDigest string          `json:"manifest_digest"`
	Policy         policy.Document `json:"policy"`
}

// InstanceView is an instance as the API shows it.
type InstanceView struct {
	*registry.Instance
	Policy policy.Document `json:"policy"`
}

func view(inst *registry.Instance) InstanceView {
	return InstanceView{Instance: inst, Policy: policy.ToDocument(inst.Settings)}
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := s.registry.LookupManifest(req.ManifestDigest)
	if err != nil {
		writeErr(w, s.log, err)
		return
	}
	settings, err := req.Policy.Settings()
	if err != nil {
		writeErr(w, s.log, err)
		return
	}
	inst, err := s.registry.Activate(r.Context(), req.InstanceID, m, settings)
	if err != nil {
		writeErr(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, view(inst))
}

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	out := []InstanceView{}
	for _, inst := range s.registry.Instances() {
		out = append(out, view(inst))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.Manifest(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	settings, err := s.registry.Settings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, policy.ToDocument(settings))
}

// LedgerView adds the derived window fields to an entry.
type LedgerView struct {
	ledger.Entry
	WindowEnd     *time.Time `json:"window_end,omitempty"`
	WindowExpired bool       `json:"window_expired"`
	RemainingDays *int       `json:"remaining_days,omitempty"`
}

func ledgerView(e ledger.Entry, now time.Time) LedgerView {
	v := LedgerView{Entry: e, WindowExpired: e.Expired(now)}
	if e.DurationDays > 0 {
		end := e.WindowEnd()
		days := e.RemainingDays(now)
		v.WindowEnd = &end
		v.RemainingDays = &days
	}
	return v
}

func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "id")
	if _, err := s.registry.Instance(instanceID); err != nil {
		writeErr(w, s.log, err)
		return
	}
	e, err := s.ledger.Get(r.Context(), instanceID)
	if err != nil {
		writeErr(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerView(e, s.ledger.Now()))
}

func (s *Server) handleProposal(w http.ResponseWriter, r *http.Request) {
	var p compliance.Proposal
	if !decodeBody(w, r, &p) {
		return
	}
	if p.ID == "" {
		p.ID = r.Header.Get("Idempotency-Key")
	}

	dec, err := s.gate.SubmitProposal(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		writeErr(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	var op compliance.Operation
	if !decodeBody(w, r, &op) {
		return
	}
	dec, err := s.gate.SubmitOperation(r.Context(), chi.URLParam(r, "id"), op)
	if err != nil {
		writeErr(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	e, err := s.registry.Renew(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerView(e, s.ledger.Now()))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "", fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}
