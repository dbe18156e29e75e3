package api

import "net/http"

func (s *Server) subscribePro(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())

	sub, err := s.engine.SubscribePro(r.Context(), userID)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	ok(w, "Membership upgraded to Pro successfully.", sub)
}

func (s *Server) renewPro(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())

	sub, err := s.engine.RenewPro(r.Context(), userID)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	ok(w, "Pro subscription renewed successfully.", sub)
}

func (s *Server) subscriptionStatus(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())

	report, err := s.engine.SubscriptionStatus(r.Context(), userID)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	ok(w, report.Message, report)
}

// upgradeMembership is the flat-fee corporate role upgrade.
func (s *Server) upgradeMembership(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())

	payment, err := s.engine.UpgradeMembership(r.Context(), userID)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	ok(w, "Membership upgraded to Corporate successfully.", payment)
}
