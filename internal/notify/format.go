package notify

import (
	"fmt"
	"strings"

	"github.com/chainpulse/walletmon/internal/domain"
)

// FormatAlert renders an AlertEvent into the (event, title, message) triple
// the Notifier dispatches. The event string feeds the type filter; the title
// and message are channel-agnostic text that each sender decorates itself.
func FormatAlert(ev domain.AlertEvent) (event, title, message string) {
	switch ev.Kind {
	case domain.AlertTransaction:
		return string(ev.Kind), transactionTitle(ev), transactionMessage(ev)
	case domain.AlertBalanceChange:
		return string(ev.Kind), ev.Title, balanceMessage(ev)
	case domain.AlertGasBand:
		return string(ev.Kind), fmt.Sprintf("Gas on %s", strings.ToUpper(string(ev.Network))), gasMessage(ev)
	case domain.AlertSourceDegraded:
		return string(ev.Kind), "Monitoring degraded", degradedMessage(ev)
	default:
		return string(ev.Kind), ev.Title, ""
	}
}

func transactionTitle(ev domain.AlertEvent) string {
	category, _ := ev.Payload["category"].(string)
	symbol, _ := ev.Payload["symbol"].(string)
	switch category {
	case string(domain.CategoryBuy):
		return fmt.Sprintf("Buy %s on %s", symbol, strings.ToUpper(string(ev.Network)))
	case string(domain.CategorySell):
		return fmt.Sprintf("Sell %s on %s", symbol, strings.ToUpper(string(ev.Network)))
	default:
		return fmt.Sprintf("Transfer %s on %s", symbol, strings.ToUpper(string(ev.Network)))
	}
}

func transactionMessage(ev domain.AlertEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Wallet: %s\n", shortAddress(ev.Wallet))
	if amount, ok := ev.Payload["amount"].(float64); ok {
		symbol, _ := ev.Payload["symbol"].(string)
		fmt.Fprintf(&b, "Amount: %s %s\n", trimFloat(amount), symbol)
	}
	if usd, ok := ev.Payload["usd_value"].(float64); ok {
		fmt.Fprintf(&b, "Value: $%.2f\n", usd)
	}
	if hash, ok := ev.Payload["hash"].(string); ok {
		fmt.Fprintf(&b, "Tx: %s", hash)
	}
	return strings.TrimRight(b.String(), "\n")
}

func balanceMessage(ev domain.AlertEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Wallet: %s\n", shortAddress(ev.Wallet))
	symbol, _ := ev.Payload["symbol"].(string)
	prev, _ := ev.Payload["prev_quantity"].(float64)
	curr, _ := ev.Payload["curr_quantity"].(float64)

	switch {
	case ev.Payload["new_position"] == true:
		fmt.Fprintf(&b, "New position: %s %s", trimFloat(curr), symbol)
	case ev.Payload["closed"] == true:
		fmt.Fprintf(&b, "Position closed: %s %s sold or moved out", trimFloat(prev), symbol)
	default:
		fmt.Fprintf(&b, "%s: %s -> %s", symbol, trimFloat(prev), trimFloat(curr))
		if pct, ok := ev.Payload["pct_change"].(float64); ok {
			fmt.Fprintf(&b, " (%+.1f%%)", pct*100)
		}
	}
	return b.String()
}

func gasMessage(ev domain.AlertEvent) string {
	gwei, _ := ev.Payload["gwei"].(float64)
	band, _ := ev.Payload["band"].(string)
	prev, _ := ev.Payload["prev_band"].(string)
	return fmt.Sprintf("Gas moved from %s to %s: %.1f gwei", prev, band, gwei)
}

func degradedMessage(ev domain.AlertEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Wallet %s on %s keeps failing", shortAddress(ev.Wallet), strings.ToUpper(string(ev.Network)))
	if failures, ok := ev.Payload["consecutive_failures"]; ok {
		fmt.Fprintf(&b, " (%v consecutive failures)", failures)
	}
	if lastErr, ok := ev.Payload["last_error"].(string); ok {
		fmt.Fprintf(&b, "\nLast error: %s", lastErr)
	}
	return b.String()
}

// shortAddress abbreviates a hex address to 0x1234…abcd for readability.
func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

// trimFloat renders a quantity without trailing zero noise.
func trimFloat(f float64) string {
	s := fmt.Sprintf("%.6f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
