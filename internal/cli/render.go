package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/bankrec/internal/model"
	"github.com/Veraticus/bankrec/internal/service"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// newTable builds a borderless table with amountColumns right-aligned.
func newTable(headers []string, amountColumns ...int) *table.Table {
	money := make(map[int]bool, len(amountColumns))
	for _, c := range amountColumns {
		money[c] = true
	}
	return table.New().
		Border(lipgloss.HiddenBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case money[col]:
				return AmountStyle
			default:
				return TableCellStyle
			}
		})
}

// RenderCandidates renders ranked candidates with their match flags.
func RenderCandidates(candidates []model.MatchCandidate) string {
	if len(candidates) == 0 {
		return SubtleStyle.Render("No matching vouchers.")
	}

	t := newTable([]string{"RANK", "KIND", "ID", "AMOUNT", "REFERENCE", "DATE", "PARTY", "MATCHED"}, 3)
	for _, c := range candidates {
		t.Row(
			strconv.Itoa(c.Rank),
			string(c.Kind),
			c.ID,
			FormatAmount(c.Amount),
			c.ReferenceNo,
			c.PostingDate.Format(dateLayout),
			c.Party,
			matchFlags(c),
		)
	}
	return t.Render()
}

func matchFlags(c model.MatchCandidate) string {
	var flags []string
	if c.ReferenceNumberMatch {
		flags = append(flags, "ref")
	}
	if c.AmountMatch {
		flags = append(flags, "amount")
	}
	if c.PartyMatch {
		flags = append(flags, "party")
	}
	if c.DateMatch {
		flags = append(flags, "date")
	}
	if c.NameInDescMatch {
		flags = append(flags, "desc")
	}
	return strings.Join(flags, ",")
}

// RenderTransactions renders bank transactions with their reconciliation state.
func RenderTransactions(txns []model.BankTransaction) string {
	if len(txns) == 0 {
		return SubtleStyle.Render("No transactions.")
	}

	t := newTable([]string{"ID", "DATE", "DEPOSIT", "WITHDRAWAL", "UNALLOCATED", "STATUS", "REFERENCE", "DESCRIPTION"}, 2, 3, 4)
	for i := range txns {
		txn := &txns[i]
		t.Row(
			txn.ID,
			txn.Date.Format(dateLayout),
			FormatAmount(txn.Deposit),
			FormatAmount(txn.Withdrawal),
			FormatAmount(txn.UnallocatedAmount),
			string(txn.Status),
			txn.ReferenceNo,
			Truncate(txn.Description, 40),
		)
	}
	return t.Render()
}

// RenderTransaction renders one transaction and its allocation rows.
func RenderTransaction(txn *model.BankTransaction) string {
	header := fmt.Sprintf("%s  %s  %s %s\nallocated %s, unallocated %s, %s",
		txn.ID,
		txn.Date.Format(dateLayout),
		txn.Direction(),
		FormatAmount(txn.Amount()),
		FormatAmount(txn.AllocatedAmount),
		FormatAmount(txn.UnallocatedAmount),
		statusStyle(txn.Status).Render(string(txn.Status)),
	)
	if len(txn.Allocations) == 0 {
		return RenderBox("Bank Transaction", header)
	}

	t := newTable([]string{"#", "KIND", "VOUCHER", "AMOUNT", "PARTY"}, 3)
	for i, a := range txn.Allocations {
		t.Row(strconv.Itoa(i+1), string(a.Kind), a.VoucherID, FormatAmount(a.Amount), a.Party)
	}
	return RenderBox("Bank Transaction", lipgloss.JoinVertical(lipgloss.Left, header, "", t.Render()))
}

func statusStyle(s model.ReconciliationStatus) lipgloss.Style {
	switch s {
	case model.StatusReconciled:
		return SuccessStyle
	case model.StatusPartiallyReconciled:
		return WarningStyle
	default:
		return SubtleStyle
	}
}

// RenderAutoReconcileReport summarises an auto-reconciliation run.
func RenderAutoReconcileReport(stats service.AutoReconcileStats, reconciled, partial []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processed:            %d\n", stats.Processed)
	fmt.Fprintf(&b, "Reconciled:           %s\n", SuccessStyle.Render(strconv.Itoa(stats.Reconciled)))
	fmt.Fprintf(&b, "Partially reconciled: %s\n", WarningStyle.Render(strconv.Itoa(stats.PartiallyReconciled)))
	fmt.Fprintf(&b, "Untouched:            %d\n", stats.Untouched)
	fmt.Fprintf(&b, "Rejected:             %s\n", ErrorStyle.Render(strconv.Itoa(stats.Rejected)))
	fmt.Fprintf(&b, "Duration:             %s", stats.Duration.Round(time.Millisecond))

	if len(reconciled) > 0 {
		fmt.Fprintf(&b, "\n\n%s %s", SuccessIcon, strings.Join(reconciled, ", "))
	}
	if len(partial) > 0 {
		fmt.Fprintf(&b, "\n%s %s", WarningIcon, strings.Join(partial, ", "))
	}
	return RenderBox("Auto-reconciliation", b.String())
}

// FormatAmount renders money at two decimal places with thousands separators.
// Zero renders as an empty cell.
func FormatAmount(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	s := d.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if d.IsNegative() {
		b.WriteByte('-')
	}
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
