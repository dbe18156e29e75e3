package api

import (
	"errors"
	"net/http"

	"github.com/xraph/escrow/assistant"
	"github.com/xraph/escrow/meter"
)

const upgradeURL = "/pricing"

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// usageView renders Pro usage as {"limit": null, "used": null,
// "remaining": "unlimited"}.
type usageView struct {
	Limit     *int64 `json:"limit"`
	Used      *int64 `json:"used"`
	Remaining any    `json:"remaining"`
}

func viewUsage(u *meter.Usage) usageView {
	if u == nil {
		return usageView{Remaining: "unlimited"}
	}
	return usageView{Limit: &u.Limit, Used: &u.Used, Remaining: u.Remaining}
}

type chatResponse struct {
	Tier       assistant.Tier        `json:"tier"`
	Response   assistant.Answer      `json:"response"`
	Usage      usageView             `json:"usage"`
	UpgradeCTA *string               `json:"upgrade_cta"`
	Escalation *assistant.Escalation `json:"escalation,omitempty"`
	SessionID  string                `json:"session_id,omitempty"`
}

type quotaResponse struct {
	Tier       assistant.Tier `json:"tier"`
	Usage      usageView      `json:"usage"`
	UpgradeURL string         `json:"upgrade_url"`
}

func (s *Server) sendChat(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())

	var req chatRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = r.Header.Get(SessionHeader)
	}

	reply, err := s.chat.Ask(r.Context(), assistant.Request{
		Message:   req.Message,
		UserID:    userID,
		SessionID: req.SessionID,
	})
	var qe *meter.QuotaError
	if errors.As(err, &qe) {
		tier := assistant.TierFree
		if userID.IsNil() {
			tier = assistant.TierGuest
		}
		writeJSON(w, http.StatusTooManyRequests, Envelope{
			Success: false,
			Message: qe.Message,
			Data:    quotaResponse{Tier: tier, Usage: viewUsage(&qe.Usage), UpgradeURL: upgradeURL},
		})
		return
	}
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	resp := chatResponse{
		Tier:       reply.Tier,
		Response:   reply.Answer,
		Usage:      viewUsage(reply.Usage),
		Escalation: reply.Escalation,
		SessionID:  reply.SessionID,
	}
	if reply.UpgradeCTA != "" {
		resp.UpgradeCTA = &reply.UpgradeCTA
	}
	if reply.SessionID != "" {
		w.Header().Set(SessionHeader, reply.SessionID)
	}
	ok(w, "AI response generated successfully.", resp)
}
