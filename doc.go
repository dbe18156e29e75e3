// Package escrow provides the wallet ledger, escrow settlement and Pro
// membership billing of a legal-services marketplace.
//
// Escrow is designed as a library. The Engine is the only writer of wallet
// balances; every call that moves money runs as one unit of work against a
// store.Store and either commits all of its writes or none of them.
//
//   - Wallets: one balance per user, created on first top-up
//   - Ledger: an append-only row for every balance change
//   - Escrow: client funds held for a case, split between expert and platform on release
//   - Membership: Pro periods bought and renewed from the wallet
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/escrow"
//	    "github.com/xraph/escrow/store/postgres"
//	)
//
//	s, err := postgres.Open(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	e := escrow.New(s)
//	if err := e.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Stop()
//
// # Case funding
//
// A client tops up, funds are held when the case starts and released once the
// case is completed:
//
//	_, err = e.TopUp(ctx, clientID, escrow.Rupiah(1000000))
//	hold, err := e.LockFundsForCase(ctx, caseID, escrow.Rupiah(500000))
//	// ... case management marks the case completed ...
//	settlement, err := e.ReleaseFunds(ctx, caseID)
//
// With the default 10% platform fee, the expert receives Rp 450.000 and the
// platform account Rp 50.000. The fee is rounded half up to the sen and the
// payout is the remainder, so the two always add up to the hold.
//
// # Concurrency
//
// Inside a unit of work, rows are locked in one order: wallets by ascending
// id, then the pending escrow hold, then the case, then the user. A release
// locks the pending hold and settles it in the same unit, so concurrent
// releases of one case succeed exactly once.
//
// # Errors
//
// Failures carry a message meant for the end user. Use IsDomain, IsNotFound
// and IsRetryable to classify them, or errors.Is with the sentinels.
//
// # TypeID
//
// All entities use TypeID identifiers:
//
//	user_01h2xcejqtf2nbrexx3vqjhp41  // User ID
//	wlt_01h2xcejqtf2nbrexx3vqjhp41   // Wallet ID
//	case_01h455vb4pex5vsknk084sn02q  // Case ID
//
// TypeIDs are K-sortable, which also gives wallet locks a stable order.
package escrow
