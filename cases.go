package escrow

import (
	"context"
	"errors"
	"strings"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/legalcase"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/types"
	"github.com/xraph/escrow/user"
)

// ──────────────────────────────────────────────────
// Users
// ──────────────────────────────────────────────────

// RegisterUser stores a new account. A missing ID is generated and a missing
// role defaults to client.
func (e *Engine) RegisterUser(ctx context.Context, u *user.User) error {
	if u.ID.IsNil() {
		u.ID = id.NewUserID()
	}
	if u.Role == "" {
		u.Role = user.RoleClient
	}
	if !u.Role.Valid() {
		return newError(ErrInvalidRole, "Role %q tidak dikenal.", u.Role)
	}
	u.Name = strings.TrimSpace(u.Name)
	u.Entity = types.EntityAt(e.now())

	if err := e.store.CreateUser(ctx, u); err != nil {
		return classify(err)
	}
	return nil
}

// User retrieves a user by ID.
func (e *Engine) User(ctx context.Context, userID id.UserID) (*user.User, error) {
	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	return u, nil
}

// ──────────────────────────────────────────────────
// Cases
// ──────────────────────────────────────────────────

// openCaseAttempts bounds retries when two cases race for a number.
const openCaseAttempts = 3

// OpenCase submits a new case for the client and assigns the next case
// number of the day.
func (e *Engine) OpenCase(ctx context.Context, clientID id.UserID, title string) (*legalcase.Case, error) {
	if _, err := e.store.GetUser(ctx, clientID); err != nil {
		return nil, classify(err)
	}

	var (
		c   *legalcase.Case
		err error
	)
	for range openCaseAttempts {
		err = e.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
			now := e.now()
			last, err := tx.LatestCaseNumber(ctx, legalcase.NumberPrefix(now))
			if err != nil {
				return err
			}
			number, err := legalcase.NextNumber(now, last)
			if err != nil {
				return err
			}

			c = &legalcase.Case{
				Entity:   types.EntityAt(now),
				ID:       id.NewCaseID(),
				Number:   number,
				Title:    strings.TrimSpace(title),
				ClientID: clientID,
				Status:   legalcase.StatusSubmitted,
			}
			return tx.InsertCase(ctx, c)
		})
		if !errors.Is(err, ErrAlreadyExists) {
			break
		}
	}
	if err != nil {
		return nil, classify(err)
	}

	e.logger.Info("case opened", "case_id", c.ID.String(), "case_number", c.Number)
	return c, nil
}

// Case retrieves a case by ID.
func (e *Engine) Case(ctx context.Context, caseID id.CaseID) (*legalcase.Case, error) {
	c, err := e.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, classify(err)
	}
	return c, nil
}

// AssignExpert sets the paralegal or lawyer who will be paid on release.
// Only a case without an expert that has not yet completed, been cancelled
// or gone to dispute takes one.
func (e *Engine) AssignExpert(ctx context.Context, caseID id.CaseID, expertID id.UserID) (*legalcase.Case, error) {
	expert, err := e.store.GetUser(ctx, expertID)
	if err != nil {
		return nil, classify(err)
	}
	if !expert.Role.Expert() {
		return nil, newError(ErrNotExpert, "User %s bukan paralegal atau lawyer.", expert.Name)
	}

	return e.updateCase(ctx, caseID, func(c *legalcase.Case) error {
		if c.HasExpert() {
			return newError(ErrExpertAssigned, "Kasus #%s sudah memiliki mitra (expert).", c.Number)
		}
		if !c.Status.AcceptsExpert() {
			return newError(ErrInvalidCaseStatus,
				"Kasus #%s tidak lagi menerima mitra. Status saat ini: %s", c.Number, c.Status)
		}
		c.ExpertID = expertID
		return nil
	})
}

// SetCaseStatus moves the case to status. Case management drives this; the
// engine itself only moves cases to active when funds are locked.
func (e *Engine) SetCaseStatus(ctx context.Context, caseID id.CaseID, status legalcase.Status) (*legalcase.Case, error) {
	if !status.Valid() {
		return nil, newError(ErrInvalidCaseStatus, "Status kasus %q tidak dikenal.", status)
	}

	c, err := e.updateCase(ctx, caseID, func(c *legalcase.Case) error {
		c.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("case status changed", "case_id", caseID.String(), "status", string(status))
	return c, nil
}

// updateCase applies mutate to the locked case. An error from mutate aborts
// the unit with nothing written.
func (e *Engine) updateCase(ctx context.Context, caseID id.CaseID, mutate func(*legalcase.Case) error) (*legalcase.Case, error) {
	var c *legalcase.Case
	err := e.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockCase(ctx, caseID)
		if err != nil {
			return err
		}
		if err := mutate(locked); err != nil {
			return err
		}
		locked.Touch(e.now())
		if err := tx.UpdateCase(ctx, locked); err != nil {
			return err
		}
		c = locked
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return c, nil
}
