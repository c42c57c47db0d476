// Package money orchestrates the atomic, multi-store sequences that move
// Kromer currency: peer-to-peer transfers and name purchases. Each
// operation spans the accounts, names, and transactions stores inside a
// single commit boundary via internal/dbtx.
package money

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel/codes"

	"github.com/kromer-go/kromer/internal/accounts"
	"github.com/kromer-go/kromer/internal/dbtx"
	"github.com/kromer-go/kromer/internal/metrics"
	"github.com/kromer-go/kromer/internal/names"
	"github.com/kromer-go/kromer/internal/traces"
	"github.com/kromer-go/kromer/internal/transactions"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrInvalidAmount  = errors.New("money: amount must be a positive integer")
	ErrSameAddress    = errors.New("money: cannot transfer to the same address")
	ErrMetadataTooLong = errors.New("money: metadata exceeds maximum length")
)

// MaxMetadataLength is the maximum byte length of a transaction's metadata
// field.
const MaxMetadataLength = 255

// Event is published to subscribers after a money operation commits.
// The gateway's broadcaster (internal/gateway) consumes these to push
// "transaction" and "name" events to subscribed sessions.
type Event struct {
	Type        string // "transaction" or "name"
	Transaction *transactions.Transaction
	Name        *names.Name
}

// Publisher receives committed events for fan-out to connected sessions.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// noopPublisher discards events; used when no gateway is wired.
type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) {}

// Service wires the accounts, names, and transactions stores together and
// exposes the money operations the wire protocol and REST surface call.
type Service struct {
	Accounts     accounts.Store
	Names        names.Store
	Transactions transactions.Store

	// DB is used to span a Service method across all three stores in one
	// commit. Nil when running against in-memory stores (dev/test mode),
	// in which case each store call commits independently.
	DB *sql.DB

	NameCost  int64
	Publisher Publisher

	Logger *slog.Logger
}

// New constructs a Service. publisher may be nil, in which case events are
// discarded.
func New(accountsStore accounts.Store, namesStore names.Store, txStore transactions.Store, db *sql.DB, nameCost int64, publisher Publisher, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Accounts:     accountsStore,
		Names:        namesStore,
		Transactions: txStore,
		DB:           db,
		NameCost:     nameCost,
		Publisher:    publisher,
		Logger:       logger,
	}
}

func (s *Service) atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.DB == nil {
		return fn(ctx)
	}
	return dbtx.Run(ctx, s.DB, fn)
}

// Transfer moves value from `from` to `to`, recording a ledger entry. If
// requestID is non-empty, a repeated call with the same requestID is a
// no-op success (idempotent retry) rather than a double-spend.
func (s *Service) Transfer(ctx context.Context, from, to string, value int64, metadata, requestID string) (*transactions.Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "money.Transfer",
		traces.Address(from), traces.Amount(strconv.FormatInt(value, 10)), traces.RequestID(requestID))
	defer span.End()

	if value <= 0 {
		span.SetStatus(codes.Error, "invalid amount")
		return nil, ErrInvalidAmount
	}
	if from == to {
		span.SetStatus(codes.Error, "same address")
		return nil, ErrSameAddress
	}
	if len(metadata) > MaxMetadataLength {
		span.SetStatus(codes.Error, "metadata too long")
		return nil, ErrMetadataTooLong
	}

	var tx *transactions.Transaction
	err := s.atomic(ctx, func(ctx context.Context) error {
		if err := s.Accounts.Transfer(ctx, from, to, value); err != nil {
			return err
		}
		var err error
		tx, err = s.Transactions.Insert(ctx, &transactions.Transaction{
			From:      from,
			To:        to,
			Value:     value,
			Metadata:  metadata,
			RequestID: requestID,
		})
		if err != nil {
			// atomic() only wraps this in a real rollback-on-error
			// transaction when s.DB is set; in memory mode the balance
			// move above already committed, so it has to be reversed here
			// instead of relying on a surrounding transaction to undo it.
			if compErr := s.Accounts.Transfer(ctx, to, from, value); compErr != nil {
				s.Logger.Error("money: failed to reverse transfer after ledger insert failed", "error", compErr)
			}
			return err
		}
		return nil
	})

	if errors.Is(err, transactions.ErrConflict) {
		// Idempotent retry: the transfer already committed under this
		// request id, so the funds have already moved. Surface success.
		span.AddEvent("idempotent replay")
		metrics.TransactionsTotal.WithLabelValues("replayed").Inc()
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		metrics.TransactionsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.TransactionsTotal.WithLabelValues("ok").Inc()
	s.Publisher.Publish(ctx, Event{Type: "transaction", Transaction: tx})
	return tx, nil
}

// RegisterName purchases a new name for owner, debiting NameCost from
// owner's balance and recording the purchase as a ledger entry whose
// recipient is the synthetic "name" address.
func (s *Service) RegisterName(ctx context.Context, owner, name string) (*names.Name, error) {
	ctx, span := traces.StartSpan(ctx, "money.RegisterName", traces.Address(owner), traces.Name(name))
	defer span.End()

	if err := names.Validate(name); err != nil {
		span.SetStatus(codes.Error, "invalid name")
		return nil, err
	}

	var n *names.Name
	err := s.atomic(ctx, func(ctx context.Context) error {
		if s.NameCost > 0 {
			if err := s.Accounts.Debit(ctx, owner, s.NameCost); err != nil {
				return err
			}
		}

		var err error
		n, err = s.Names.Create(ctx, name, owner)
		if err != nil {
			// As in Transfer, atomic() only rolls back automatically when
			// s.DB is set; in memory mode the debit above already landed,
			// so a failed Create (e.g. the name is taken) must be refunded
			// here instead of leaving the owner short with nothing to show
			// for it.
			if s.NameCost > 0 {
				if compErr := s.Accounts.Credit(ctx, owner, s.NameCost); compErr != nil {
					s.Logger.Error("money: failed to refund name cost after failed create", "error", compErr)
				}
			}
			return err
		}

		if s.NameCost > 0 {
			if _, err := s.Transactions.Insert(ctx, &transactions.Transaction{
				From:  owner,
				To:    transactions.NameSentinel,
				Value: s.NameCost,
				Name:  name,
			}); err != nil {
				if compErr := s.Accounts.Credit(ctx, owner, s.NameCost); compErr != nil {
					s.Logger.Error("money: failed to refund name cost after failed ledger insert", "error", compErr)
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	metrics.NamesRegisteredTotal.Inc()
	s.Publisher.Publish(ctx, Event{Type: "name", Name: n})
	return n, nil
}

// TransferName reassigns ownership of an existing name.
func (s *Service) TransferName(ctx context.Context, caller, name, newOwner string) (*names.Name, error) {
	ctx, span := traces.StartSpan(ctx, "money.TransferName", traces.Address(caller), traces.Name(name))
	defer span.End()

	existing, err := s.Names.Get(ctx, name)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if existing.Owner != caller {
		span.SetStatus(codes.Error, "not owner")
		return nil, names.ErrNotOwner
	}

	n, err := s.Names.Transfer(ctx, name, newOwner)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.Publisher.Publish(ctx, Event{Type: "name", Name: n})
	return n, nil
}
