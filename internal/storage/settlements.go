package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Veraticus/bankrec/internal/model"
)

// CreateSettlement persists a settlement voucher with its reference lines and
// postings, and reduces the outstanding amount of every claim it pays.
func (s *SQLiteStorage) CreateSettlement(ctx context.Context, settlement *model.Settlement) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSettlement(settlement); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.createSettlementTx(ctx, tx, settlement); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) createSettlementTx(ctx context.Context, q queryable, st *model.Settlement) error {
	refDate := st.ReferenceDate
	voucher := &model.Voucher{
		Kind:          st.Kind,
		ID:            st.ID,
		Company:       st.Company,
		Account:       st.LedgerAccount,
		BankAccount:   st.BankAccount,
		Direction:     st.Direction,
		Total:         st.PaidAmount,
		Outstanding:   st.PaidAmount,
		Currency:      st.Currency,
		Party:         st.Party,
		PartyType:     st.PartyType,
		ReferenceNo:   st.ReferenceNo,
		ReferenceDate: &refDate,
		PostingDate:   st.PostingDate,
		Status:        model.DocFinalized,
	}
	if err := s.saveVoucherTx(ctx, q, voucher); err != nil {
		return err
	}

	for i, line := range st.Lines {
		_, err := q.ExecContext(ctx, `
			INSERT INTO settlement_lines (
				settlement_kind, settlement_id, idx, claim_kind, claim_id,
				party, party_type, due_date, allocated
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, string(st.Kind), st.ID, i+1, string(line.ClaimKind), line.ClaimID,
			line.Party, line.PartyType, nullTime(line.DueDate), line.Allocated.String())
		if err != nil {
			return fmt.Errorf("failed to insert settlement line %d: %w", i+1, err)
		}

		if err := s.reduceOutstandingTx(ctx, q, line); err != nil {
			return err
		}
	}

	for i, p := range st.Postings {
		_, err := q.ExecContext(ctx, `
			INSERT INTO settlement_postings (
				settlement_kind, settlement_id, idx, account, party, party_type, debit, credit
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, string(st.Kind), st.ID, i+1, p.Account, p.Party, p.PartyType, p.Debit.String(), p.Credit.String())
		if err != nil {
			return fmt.Errorf("failed to insert posting %d: %w", i+1, err)
		}
	}

	return nil
}

// reduceOutstandingTx books one settlement line against its claim and, when
// the line targets an installment, against that schedule row too.
func (s *SQLiteStorage) reduceOutstandingTx(ctx context.Context, q queryable, line model.SettlementLine) error {
	claim, err := s.getVoucherTx(ctx, q, line.ClaimRef())
	if err != nil {
		return err
	}

	claim.Outstanding = claim.Outstanding.Sub(line.Allocated)
	if _, err := q.ExecContext(ctx, `UPDATE vouchers SET outstanding = ? WHERE kind = ? AND id = ?`,
		claim.Outstanding.String(), string(claim.Kind), claim.ID); err != nil {
		return fmt.Errorf("failed to update outstanding of %s: %w", claim.Ref(), err)
	}

	if line.DueDate == nil {
		return nil
	}

	schedule, err := s.getPaymentScheduleTx(ctx, q, line.ClaimRef())
	if err != nil {
		return err
	}
	for i := range schedule {
		if !model.SameDay(schedule[i].DueDate, *line.DueDate) {
			continue
		}
		schedule[i].Outstanding = schedule[i].Outstanding.Sub(line.Allocated)
		return s.savePaymentScheduleTx(ctx, q, line.ClaimRef(), schedule)
	}
	return nil
}

// GetSettlement loads a settlement voucher with its lines and postings.
func (s *SQLiteStorage) GetSettlement(ctx context.Context, ref model.VoucherRef) (*model.Settlement, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	return s.getSettlementTx(ctx, s.db, ref)
}

func (s *SQLiteStorage) getSettlementTx(ctx context.Context, q queryable, ref model.VoucherRef) (*model.Settlement, error) {
	v, err := s.getVoucherTx(ctx, q, ref)
	if err != nil {
		return nil, err
	}

	st := &model.Settlement{
		Kind:          v.Kind,
		ID:            v.ID,
		Company:       v.Company,
		BankAccount:   v.BankAccount,
		LedgerAccount: v.Account,
		Direction:     v.Direction,
		Currency:      v.Currency,
		Party:         v.Party,
		PartyType:     v.PartyType,
		ReferenceNo:   v.ReferenceNo,
		PostingDate:   v.PostingDate,
		PaidAmount:    v.Total,
	}
	if v.ReferenceDate != nil {
		st.ReferenceDate = *v.ReferenceDate
	}

	lines, err := s.getSettlementLinesTx(ctx, q, ref)
	if err != nil {
		return nil, err
	}
	st.Lines = lines

	postings, err := s.getSettlementPostingsTx(ctx, q, ref)
	if err != nil {
		return nil, err
	}
	st.Postings = postings

	return st, nil
}

func (s *SQLiteStorage) getSettlementLinesTx(ctx context.Context, q queryable, ref model.VoucherRef) ([]model.SettlementLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT claim_kind, claim_id, party, party_type, due_date, allocated
		FROM settlement_lines
		WHERE settlement_kind = ? AND settlement_id = ?
		ORDER BY idx ASC
	`, string(ref.Kind), ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlement lines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var lines []model.SettlementLine
	for rows.Next() {
		var line model.SettlementLine
		var kind string
		var dueDate sql.NullTime
		if err := rows.Scan(&kind, &line.ClaimID, &line.Party, &line.PartyType, &dueDate, &line.Allocated); err != nil {
			return nil, fmt.Errorf("failed to scan settlement line: %w", err)
		}
		line.ClaimKind = model.VoucherKind(kind)
		line.DueDate = timePtr(dueDate)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *SQLiteStorage) getSettlementPostingsTx(ctx context.Context, q queryable, ref model.VoucherRef) ([]model.Posting, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT account, party, party_type, debit, credit
		FROM settlement_postings
		WHERE settlement_kind = ? AND settlement_id = ?
		ORDER BY idx ASC
	`, string(ref.Kind), ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlement postings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var postings []model.Posting
	for rows.Next() {
		var p model.Posting
		if err := rows.Scan(&p.Account, &p.Party, &p.PartyType, &p.Debit, &p.Credit); err != nil {
			return nil, fmt.Errorf("failed to scan posting: %w", err)
		}
		postings = append(postings, p)
	}
	return postings, rows.Err()
}

// ClosePeriod records a period closing voucher for a company.
func (s *SQLiteStorage) ClosePeriod(ctx context.Context, company string, date time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(company, "company"); err != nil {
		return err
	}
	return s.closePeriodTx(ctx, s.db, company, date)
}

func (s *SQLiteStorage) closePeriodTx(ctx context.Context, q queryable, company string, date time.Time) error {
	if _, err := q.ExecContext(ctx, `INSERT INTO period_closings (company, posting_date) VALUES (?, ?)`, company, date); err != nil {
		return fmt.Errorf("failed to close period: %w", err)
	}
	return nil
}

// GetLatestPeriodClose returns the latest closing date of the company, or nil when none exists.
func (s *SQLiteStorage) GetLatestPeriodClose(ctx context.Context, company string) (*time.Time, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getLatestPeriodCloseTx(ctx, s.db, company)
}

func (s *SQLiteStorage) getLatestPeriodCloseTx(ctx context.Context, q queryable, company string) (*time.Time, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT posting_date FROM period_closings
		WHERE company = ?
		ORDER BY posting_date DESC
		LIMIT 1
	`, company)
	if err != nil {
		return nil, fmt.Errorf("failed to query period closings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var date time.Time
	if err := rows.Scan(&date); err != nil {
		return nil, fmt.Errorf("failed to scan period closing: %w", err)
	}
	return &date, nil
}
