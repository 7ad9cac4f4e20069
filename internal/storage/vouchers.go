package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/bankrec/internal/common"
	"github.com/Veraticus/bankrec/internal/model"
	"github.com/Veraticus/bankrec/internal/service"
)

// SaveVoucher creates or updates a ledger voucher.
func (s *SQLiteStorage) SaveVoucher(ctx context.Context, voucher *model.Voucher) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateVoucher(voucher); err != nil {
		return err
	}
	return s.saveVoucherTx(ctx, s.db, voucher)
}

func (s *SQLiteStorage) saveVoucherTx(ctx context.Context, q queryable, v *model.Voucher) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO vouchers (
			kind, id, company, account, bank_account, direction, total, outstanding,
			currency, party, party_type, reference_no, reference_date, posting_date,
			due_date, clearance_date, status, is_return
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			company = excluded.company,
			account = excluded.account,
			bank_account = excluded.bank_account,
			direction = excluded.direction,
			total = excluded.total,
			outstanding = excluded.outstanding,
			currency = excluded.currency,
			party = excluded.party,
			party_type = excluded.party_type,
			reference_no = excluded.reference_no,
			reference_date = excluded.reference_date,
			posting_date = excluded.posting_date,
			due_date = excluded.due_date,
			clearance_date = excluded.clearance_date,
			status = excluded.status,
			is_return = excluded.is_return
	`,
		string(v.Kind),
		v.ID,
		v.Company,
		v.Account,
		v.BankAccount,
		string(v.Direction),
		v.Total.String(),
		v.Outstanding.String(),
		v.Currency,
		v.Party,
		v.PartyType,
		v.ReferenceNo,
		nullTime(v.ReferenceDate),
		v.PostingDate,
		nullTime(v.DueDate),
		nullTime(v.ClearanceDate),
		int(v.Status),
		v.IsReturn,
	)
	if err != nil {
		return fmt.Errorf("failed to save voucher %s: %w", v.Ref(), err)
	}
	return nil
}

// GetVoucher retrieves one voucher. Bank transactions are projected into the voucher shape.
func (s *SQLiteStorage) GetVoucher(ctx context.Context, ref model.VoucherRef) (*model.Voucher, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	return s.getVoucherTx(ctx, s.db, ref)
}

func (s *SQLiteStorage) getVoucherTx(ctx context.Context, q queryable, ref model.VoucherRef) (*model.Voucher, error) {
	if ref.Kind == model.KindBankTransaction {
		txn, err := s.getBankTransactionTx(ctx, q, ref.ID)
		if err != nil {
			return nil, err
		}
		v := projectBankTransaction(txn)
		return &v, nil
	}

	row := q.QueryRowContext(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE kind = ? AND id = ?`, string(ref.Kind), ref.ID)
	v, err := scanVoucher(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("voucher %s: %w", ref, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get voucher: %w", err)
	}
	return v, nil
}

// GetVouchers lists vouchers of one kind, ordered by posting date.
func (s *SQLiteStorage) GetVouchers(ctx context.Context, filter service.VoucherFilter) ([]model.Voucher, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getVouchersTx(ctx, s.db, filter)
}

func (s *SQLiteStorage) getVouchersTx(ctx context.Context, q queryable, filter service.VoucherFilter) ([]model.Voucher, error) {
	if !filter.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidVoucher, filter.Kind)
	}

	if filter.Kind == model.KindBankTransaction {
		txns, err := s.getBankTransactionsTx(ctx, q, service.TransactionFilter{
			BankAccount: filter.BankAccount,
			OpenOnly:    true,
		})
		if err != nil {
			return nil, err
		}
		vouchers := make([]model.Voucher, 0, len(txns))
		for i := range txns {
			if filter.Currency != "" && txns[i].Currency != filter.Currency {
				continue
			}
			vouchers = append(vouchers, projectBankTransaction(&txns[i]))
		}
		return vouchers, nil
	}

	conditions := []string{"kind = ?"}
	args := []any{string(filter.Kind)}

	if filter.Company != "" {
		conditions = append(conditions, "company = ?")
		args = append(args, filter.Company)
	}
	if filter.Currency != "" {
		conditions = append(conditions, "currency = ?")
		args = append(args, filter.Currency)
	}
	if filter.BankAccount != "" {
		conditions = append(conditions, "bank_account = ?")
		args = append(args, filter.BankAccount)
	}
	if filter.Account != "" {
		conditions = append(conditions, "account = ?")
		args = append(args, filter.Account)
	}

	query := `SELECT ` + voucherColumns + ` FROM vouchers WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY posting_date ASC, id ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vouchers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var vouchers []model.Voucher
	for rows.Next() {
		v, scanErr := scanVoucher(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan voucher: %w", scanErr)
		}
		vouchers = append(vouchers, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vouchers: %w", err)
	}
	return vouchers, nil
}

// SetClearanceDate marks a settlement voucher as cleared, or clears the mark when date is nil.
func (s *SQLiteStorage) SetClearanceDate(ctx context.Context, ref model.VoucherRef, date *time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRef(ref); err != nil {
		return err
	}
	return s.setClearanceDateTx(ctx, s.db, ref, date)
}

func (s *SQLiteStorage) setClearanceDateTx(ctx context.Context, q queryable, ref model.VoucherRef, date *time.Time) error {
	if ref.Kind == model.KindBankTransaction {
		// Peer transactions are cleared through their own allocations.
		return nil
	}
	result, err := q.ExecContext(ctx, `UPDATE vouchers SET clearance_date = ? WHERE kind = ? AND id = ?`,
		nullTime(date), string(ref.Kind), ref.ID)
	if err != nil {
		return fmt.Errorf("failed to set clearance date of %s: %w", ref, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("voucher %s: %w", ref, common.ErrNotFound)
	}
	return nil
}

// SavePaymentSchedule replaces the payment schedule of a claim.
func (s *SQLiteStorage) SavePaymentSchedule(ctx context.Context, ref model.VoucherRef, schedule []model.Installment) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRef(ref); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.savePaymentScheduleTx(ctx, tx, ref, schedule); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) savePaymentScheduleTx(ctx context.Context, q queryable, ref model.VoucherRef, schedule []model.Installment) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM payment_schedules WHERE voucher_kind = ? AND voucher_id = ?`,
		string(ref.Kind), ref.ID); err != nil {
		return fmt.Errorf("failed to clear payment schedule of %s: %w", ref, err)
	}

	for i, inst := range schedule {
		_, err := q.ExecContext(ctx, `
			INSERT INTO payment_schedules (voucher_kind, voucher_id, idx, due_date, payment_amount, outstanding)
			VALUES (?, ?, ?, ?, ?, ?)
		`, string(ref.Kind), ref.ID, i+1, inst.DueDate, inst.PaymentAmount.String(), inst.Outstanding.String())
		if err != nil {
			return fmt.Errorf("failed to insert installment %d of %s: %w", i+1, ref, err)
		}
	}
	return nil
}

// GetPaymentSchedule returns a claim's installments ordered by due date.
func (s *SQLiteStorage) GetPaymentSchedule(ctx context.Context, ref model.VoucherRef) ([]model.Installment, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getPaymentScheduleTx(ctx, s.db, ref)
}

func (s *SQLiteStorage) getPaymentScheduleTx(ctx context.Context, q queryable, ref model.VoucherRef) ([]model.Installment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT due_date, payment_amount, outstanding
		FROM payment_schedules
		WHERE voucher_kind = ? AND voucher_id = ?
		ORDER BY due_date ASC, idx ASC
	`, string(ref.Kind), ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment schedule: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var schedule []model.Installment
	for rows.Next() {
		var inst model.Installment
		if err := rows.Scan(&inst.DueDate, &inst.PaymentAmount, &inst.Outstanding); err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		schedule = append(schedule, inst)
	}
	return schedule, rows.Err()
}

const voucherColumns = `
	kind, id, company, account, bank_account, direction, total, outstanding,
	currency, party, party_type, reference_no, reference_date, posting_date,
	due_date, clearance_date, status, is_return`

func scanVoucher(row rowScanner) (*model.Voucher, error) {
	var v model.Voucher
	var kind, direction string
	var referenceDate, dueDate, clearanceDate sql.NullTime
	var status int

	err := row.Scan(
		&kind,
		&v.ID,
		&v.Company,
		&v.Account,
		&v.BankAccount,
		&direction,
		&v.Total,
		&v.Outstanding,
		&v.Currency,
		&v.Party,
		&v.PartyType,
		&v.ReferenceNo,
		&referenceDate,
		&v.PostingDate,
		&dueDate,
		&clearanceDate,
		&status,
		&v.IsReturn,
	)
	if err != nil {
		return nil, err
	}

	v.Kind = model.VoucherKind(kind)
	v.Direction = model.Direction(direction)
	v.Status = model.DocStatus(status)
	v.ReferenceDate = timePtr(referenceDate)
	v.DueDate = timePtr(dueDate)
	v.ClearanceDate = timePtr(clearanceDate)
	return &v, nil
}

// projectBankTransaction exposes a bank transaction as a peer voucher.
func projectBankTransaction(txn *model.BankTransaction) model.Voucher {
	return model.Voucher{
		Kind:        model.KindBankTransaction,
		ID:          txn.ID,
		Company:     txn.Company,
		BankAccount: txn.BankAccount,
		Direction:   txn.Direction(),
		Total:       txn.Amount(),
		Outstanding: txn.UnallocatedAmount,
		Currency:    txn.Currency,
		Party:       txn.Party,
		PartyType:   txn.PartyType,
		ReferenceNo: txn.ReferenceNo,
		PostingDate: txn.Date,
		Status:      txn.DocStatus,
	}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
