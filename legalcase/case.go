// Package legalcase models the fields of a legal case the escrow engine reads
// and the status transitions it performs. The rest of the case lifecycle
// belongs to case management.
package legalcase

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/types"
)

// Status is the case state machine. Funding moves submitted → active;
// the operator marks completed; release pays out.
type Status string

const (
	StatusSubmitted   Status = "submitted"
	StatusAIAnalyzing Status = "ai_analyzing"
	StatusBidding     Status = "bidding"
	StatusActive      Status = "active"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusDispute     Status = "dispute"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusAIAnalyzing, StatusBidding, StatusActive,
		StatusCompleted, StatusCancelled, StatusDispute:
		return true
	}
	return false
}

// AcceptsExpert reports whether a case in status s can still take an expert.
func (s Status) AcceptsExpert() bool {
	switch s {
	case StatusSubmitted, StatusAIAnalyzing, StatusBidding, StatusActive:
		return true
	}
	return false
}

// Case is the escrow-relevant projection of a legal case.
type Case struct {
	types.Entity
	ID       id.CaseID `json:"id"`
	Number   string    `json:"case_number"`
	Title    string    `json:"title"`
	ClientID id.UserID `json:"client_id"`
	ExpertID id.UserID `json:"expert_id,omitempty"` // Nil until an expert is assigned
	Status   Status    `json:"status"`
}

// HasExpert reports whether a payee is assigned.
func (c *Case) HasExpert() bool { return !c.ExpertID.IsNil() }

// NumberPrefix is the per-day prefix of case numbers, e.g. "RCI-20260214-".
func NumberPrefix(day time.Time) string {
	return "RCI-" + day.Format("20060102") + "-"
}

// NextNumber returns the case number following last on the same day.
// last is empty when no case was opened that day yet.
func NextNumber(day time.Time, last string) (string, error) {
	prefix := NumberPrefix(day)
	seq := 1
	if last != "" {
		if !strings.HasPrefix(last, prefix) {
			return "", fmt.Errorf("legalcase: %q is not a case number of %s", last, day.Format("2006-01-02"))
		}
		n, err := strconv.Atoi(strings.TrimPrefix(last, prefix))
		if err != nil {
			return "", fmt.Errorf("legalcase: parse sequence of %q: %w", last, err)
		}
		seq = n + 1
	}
	return fmt.Sprintf("%s%05d", prefix, seq), nil
}
