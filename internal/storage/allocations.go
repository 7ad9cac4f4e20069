package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/Veraticus/bankrec/internal/model"
	"github.com/Veraticus/bankrec/internal/service"
	"github.com/shopspring/decimal"
)

// GetAllocatedAmounts sums, per voucher, what finalized bank transactions of
// bankAccount other than excludeTransactionID have already allocated to it.
// Vouchers with nothing allocated are absent from the result.
func (s *SQLiteStorage) GetAllocatedAmounts(ctx context.Context, bankAccount string, refs []model.VoucherRef, excludeTransactionID string) (map[model.VoucherRef]decimal.Decimal, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getAllocatedAmountsTx(ctx, s.db, bankAccount, refs, excludeTransactionID)
}

func (s *SQLiteStorage) getAllocatedAmountsTx(ctx context.Context, q queryable, bankAccount string, refs []model.VoucherRef, excludeTransactionID string) (map[model.VoucherRef]decimal.Decimal, error) {
	result := make(map[model.VoucherRef]decimal.Decimal)
	if len(refs) == 0 {
		return result, nil
	}

	query := `
		SELECT a.voucher_kind, a.voucher_id, a.amount
		FROM allocations a
		JOIN bank_transactions t ON t.id = a.transaction_id
		WHERE t.docstatus = ? AND t.id != ?`
	args := []any{int(model.DocFinalized), excludeTransactionID}

	if bankAccount != "" {
		query += ` AND t.bank_account = ?`
		args = append(args, bankAccount)
	}

	refConditions := make([]string, 0, len(refs))
	for _, ref := range refs {
		refConditions = append(refConditions, "(a.voucher_kind = ? AND a.voucher_id = ?)")
		args = append(args, string(ref.Kind), ref.ID)
	}
	query += ` AND (` + strings.Join(refConditions, " OR ") + `)`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocated amounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var kind, id string
		var amount decimal.Decimal
		if err := rows.Scan(&kind, &id, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan allocated amount: %w", err)
		}
		ref := model.VoucherRef{Kind: model.VoucherKind(kind), ID: id}
		result[ref] = result[ref].Add(amount)
	}
	return result, rows.Err()
}

// GetAllocationLinks lists every allocation row referencing ref, in transaction order.
func (s *SQLiteStorage) GetAllocationLinks(ctx context.Context, ref model.VoucherRef) ([]service.AllocationLink, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getAllocationLinksTx(ctx, s.db, ref)
}

func (s *SQLiteStorage) getAllocationLinksTx(ctx context.Context, q queryable, ref model.VoucherRef) ([]service.AllocationLink, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT a.transaction_id, t.date, a.position, a.amount
		FROM allocations a
		JOIN bank_transactions t ON t.id = a.transaction_id
		WHERE a.voucher_kind = ? AND a.voucher_id = ?
		ORDER BY t.date ASC, t.id ASC
	`, string(ref.Kind), ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocation links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var links []service.AllocationLink
	for rows.Next() {
		var link service.AllocationLink
		if err := rows.Scan(&link.TransactionID, &link.Date, &link.Position, &link.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan allocation link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}
