package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rustyeddy/updown/ledger"
)

const HelpText = "🤖 Paper Trading Bot\n/status – Balance\n/history – Trades\n/reset – Restart"

func FormatStatus(s ledger.Summary) string {
	sign := ""
	if s.TotalPnL > 0 {
		sign = "+"
	}
	return fmt.Sprintf("💰 Balance: $%.2f\n📊 P&L: %s%.2f\n📈 Open: %d\n🎯 Win rate: %.1f%%",
		s.Balance, sign, s.TotalPnL, s.OpenCount, s.WinRate*100)
}

func FormatHistory(trades []ledger.TradeRecord) string {
	if len(trades) == 0 {
		return "No trades yet."
	}

	var b strings.Builder
	b.WriteString("Recent trades:\n")
	for _, t := range trades {
		mark := "❌"
		if t.Win() {
			mark = "✅"
		}
		fmt.Fprintf(&b, "%s $%.2f\n", mark, t.RealizedPL)
	}
	return b.String()
}

func ResetMessage(s ledger.Summary) string {
	return "Reset to $" + strconv.FormatFloat(s.InitialBalance, 'f', -1, 64) + "."
}
