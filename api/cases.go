package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/legalcase"
	"github.com/xraph/escrow/user"
)

var errForbidden = &requestError{kind: ErrForbidden, message: "Anda tidak memiliki akses ke kasus ini."}

type lockFundsRequest struct {
	CaseID string `json:"case_id"`
	Amount Amount `json:"amount"`
}

func (s *Server) lockFunds(w http.ResponseWriter, r *http.Request) {
	var req lockFundsRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	caseID, err := parseCaseID(req.CaseID)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	amount, err := req.Amount.Money()
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	if _, err := s.authorizeCase(r.Context(), caseID, false); err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	hold, err := s.engine.LockFundsForCase(r.Context(), caseID, amount)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	ok(w, "Funds locked in escrow successfully.", hold)
}

type releaseFundsRequest struct {
	CaseID string `json:"case_id"`
}

func (s *Server) releaseFunds(w http.ResponseWriter, r *http.Request) {
	var req releaseFundsRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	caseID, err := parseCaseID(req.CaseID)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	if _, err := s.authorizeCase(r.Context(), caseID, false); err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	settlement, err := s.engine.ReleaseFunds(r.Context(), caseID)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	ok(w, "Funds released successfully.", settlement)
}

type openCaseRequest struct {
	Title string `json:"title"`
}

func (s *Server) openCase(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())

	var req openCaseRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	if req.Title == "" {
		writeError(w, s.logger, r, badRequest("Judul kasus wajib diisi."))
		return
	}

	c, err := s.engine.OpenCase(r.Context(), userID, req.Title)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	created(w, "Case submitted successfully.", c)
}

func (s *Server) getCase(w http.ResponseWriter, r *http.Request) {
	caseID, err := parseCaseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	c, err := s.authorizeCase(r.Context(), caseID, true)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	ok(w, "", c)
}

type caseStatusRequest struct {
	Status legalcase.Status `json:"status"`
}

func (s *Server) setCaseStatus(w http.ResponseWriter, r *http.Request) {
	caseID, err := parseCaseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	var req caseStatusRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	if _, err := s.authorizeCase(r.Context(), caseID, true); err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	c, err := s.engine.SetCaseStatus(r.Context(), caseID, req.Status)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	ok(w, "Case status updated.", c)
}

// applyToCase assigns the calling expert to the case.
func (s *Server) applyToCase(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())

	caseID, err := parseCaseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	c, err := s.engine.AssignExpert(r.Context(), caseID, userID)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	ok(w, "Expert assigned to case.", c)
}

// authorizeCase loads the case and checks the caller may act on it: the
// client, an admin, and with allowExpert the assigned expert.
func (s *Server) authorizeCase(ctx context.Context, caseID id.CaseID, allowExpert bool) (*legalcase.Case, error) {
	userID, _ := UserIDFrom(ctx)

	c, err := s.engine.Case(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.ClientID.Equal(userID) || (allowExpert && c.ExpertID.Equal(userID)) {
		return c, nil
	}
	u, err := s.engine.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Role == user.RoleAdmin {
		return c, nil
	}
	return nil, errForbidden
}

func parseCaseID(raw string) (id.CaseID, error) {
	if raw == "" {
		return id.Nil, badRequest("case_id wajib diisi.")
	}
	caseID, err := id.ParseCaseID(raw)
	if err != nil {
		return id.Nil, badRequest("case_id tidak valid.")
	}
	return caseID, nil
}
