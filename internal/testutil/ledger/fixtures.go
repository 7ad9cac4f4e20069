package ledger

import "github.com/Veraticus/bankrec/internal/model"

// Fixture is a predefined set of books for a common test scenario.
type Fixture interface {
	// Name returns the fixture's descriptive name.
	Name() string

	// Description returns what the fixture is for.
	Description() string

	// Apply adds the fixture's documents to a builder.
	Apply(b Builder) Builder
}

type fixture struct {
	apply       func(Builder) Builder
	name        string
	description string
}

func (f *fixture) Name() string            { return f.name }
func (f *fixture) Description() string     { return f.description }
func (f *fixture) Apply(b Builder) Builder { return f.apply(b) }

// Predefined fixtures.
var (
	// FixtureCustomerReceipts has one deposit and three open customer invoices,
	// one of which carries the deposit's reference number.
	FixtureCustomerReceipts Fixture = &fixture{
		name:        "CustomerReceipts",
		description: "A customer deposit with several open sales invoices",
		apply: func(b Builder) Builder {
			return b.
				WithDeposit("BT-RCPT-1", "250.00", TxnReference("INV-0001"), TxnParty(model.PartyCustomer, "Alice")).
				WithSalesInvoice("INV-0001", "Alice", "250.00").
				WithSalesInvoice("INV-0002", "Alice", "100.00").
				WithSalesInvoice("INV-0003", "Bob", "75.00")
		},
	}

	// FixtureSupplierPayments has one withdrawal, an open purchase invoice and
	// a matching payment voucher already booked through the bank.
	FixtureSupplierPayments Fixture = &fixture{
		name:        "SupplierPayments",
		description: "A supplier payment with a booked payment voucher",
		apply: func(b Builder) Builder {
			return b.
				WithWithdrawal("BT-PAY-1", "400.00", TxnReference("PAY-77")).
				WithPurchaseInvoice("PINV-0001", "Globex", "400.00").
				WithPaymentEntry("PE-0001", model.DirectionWithdrawal, "400.00",
					VoucherReference("PAY-77"), VoucherParty(model.PartySupplier, "Globex"))
		},
	}

	// FixtureTransfer has both legs of an internal transfer on the account.
	FixtureTransfer Fixture = &fixture{
		name:        "Transfer",
		description: "Deposit and withdrawal legs of one transfer",
		apply: func(b Builder) Builder {
			return b.
				WithWithdrawal("BT-OUT", "500.00", TxnReference("TRF-1")).
				WithDeposit("BT-IN", "500.00", TxnReference("TRF-1"))
		},
	}
)
