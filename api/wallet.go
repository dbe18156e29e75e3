package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/types"
	"github.com/xraph/escrow/wallet"
)

// Amount is a rupiah amount accepted as a JSON number or string:
// 100000, 100000.50 and "100000.50" are all Rp 100.000,50.
type Amount string

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*a = Amount(n.String())
	return nil
}

// Money parses the amount as IDR.
func (a Amount) Money() (types.Money, error) {
	m, err := types.ParseMoney(string(a), types.CurrencyIDR)
	if err != nil {
		return types.Money{}, &escrow.Error{Kind: escrow.ErrInvalidAmount, Message: "Jumlah tidak valid."}
	}
	return m, nil
}

type topUpRequest struct {
	Amount Amount `json:"amount"`
}

func (s *Server) topUp(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())

	var req topUpRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	amount, err := req.Amount.Money()
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}

	t, err := s.engine.TopUp(r.Context(), userID, amount)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	ok(w, "Wallet topped up successfully.", t)
}

type walletSummary struct {
	Wallet       *wallet.Wallet `json:"wallet"`
	BalanceLabel string         `json:"balance_label"`
}

func (s *Server) walletSummary(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())

	wlt, err := s.engine.Wallet(r.Context(), userID)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	ok(w, "", walletSummary{Wallet: wlt, BalanceLabel: wlt.Balance.Display()})
}

func (s *Server) walletHistory(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())

	opts, err := listOpts(r)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	rows, err := s.engine.History(r.Context(), userID, opts)
	if err != nil {
		writeError(w, s.logger, r, err)
		return
	}
	if rows == nil {
		rows = []*wallet.Transaction{}
	}
	ok(w, "", rows)
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func listOpts(r *http.Request) (wallet.ListOpts, error) {
	q := r.URL.Query()
	opts := wallet.ListOpts{Limit: defaultPageSize}

	if t := q.Get("type"); t != "" {
		opts.Type = wallet.Type(t)
		if !opts.Type.Valid() {
			return opts, badRequest("Tipe transaksi tidak dikenal.")
		}
	}
	for _, p := range []struct {
		key string
		dst *int
	}{{"limit", &opts.Limit}, {"offset", &opts.Offset}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, badRequest("Parameter " + p.key + " tidak valid.")
		}
		*p.dst = n
	}
	if opts.Limit == 0 {
		opts.Limit = defaultPageSize
	}
	opts.Limit = min(opts.Limit, maxPageSize)
	return opts, nil
}
