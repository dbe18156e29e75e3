package escrow

import (
	"fmt"
	"time"

	"github.com/xraph/escrow/types"
)

// Ledger descriptions and failure messages are shown to users as-is, in
// Indonesian. Amounts print as "Rp 1.000.000".

const dateLayout = "02 Jan 2006"

func insufficientMessage(balance, required types.Money) string {
	return fmt.Sprintf("Saldo tidak mencukupi. Saldo saat ini: %s, dibutuhkan: %s.",
		balance.Display(), required.Display())
}

func depositDescription(amount types.Money) string {
	return "Top-up saldo sebesar " + amount.Display()
}

func holdDescription(caseNumber string, amount types.Money) string {
	return fmt.Sprintf("Escrow hold untuk kasus #%s sebesar %s", caseNumber, amount.Display())
}

func payoutDescription(caseNumber string, pct int64, amount types.Money) string {
	return fmt.Sprintf("Pencairan dana kasus #%s — %d%% (%s)", caseNumber, pct, amount.Display())
}

func feeDescription(caseNumber string, pct int64, amount types.Money) string {
	return fmt.Sprintf("Platform fee kasus #%s — %d%% (%s)", caseNumber, pct, amount.Display())
}

func subscribeDescription(days int, price types.Money) string {
	return fmt.Sprintf("Pembayaran langganan Pro (%d hari) — %s", days, price.Display())
}

func renewDescription(days int, endsAt time.Time) string {
	return fmt.Sprintf("Perpanjangan langganan Pro (+%d hari) — hingga %s", days, endsAt.Format(dateLayout))
}

const membershipDescription = "Pembayaran Membership PRO"
