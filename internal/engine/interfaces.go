package engine

import (
	"context"

	"github.com/Veraticus/bankrec/internal/matching"
	"github.com/Veraticus/bankrec/internal/model"
)

// CandidateSource produces ranked candidates for a transaction.
type CandidateSource interface {
	Candidates(ctx context.Context, txn *model.BankTransaction, kinds []model.VoucherKind, opts matching.Options) ([]model.MatchCandidate, error)
}

// CandidateAdjustor discounts candidates by what other transactions already hold.
type CandidateAdjustor interface {
	Adjust(ctx context.Context, txn *model.BankTransaction, candidates []model.MatchCandidate, exact bool) ([]model.MatchCandidate, error)
}

// ProgressFunc receives the number of transactions processed so far and the total.
type ProgressFunc func(done, total int)
