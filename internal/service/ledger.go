package service

import (
	"context"
	"fmt"

	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/pkg/idgen"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LedgerService owns the balance mutation primitive. Every balance change in
// the system, whether provider settlement, administrative bypass, refund or
// usage debit, funnels through Apply so that exactly one code path enforces
// the ledger invariants:
//
//   - the account row is read under an exclusive row lock, linearizing
//     concurrent mutators of the same account
//   - a usage debit that would go negative is rejected, never clamped
//   - an administrative debit (ClampAtZero) bottoms out at zero
//   - the CreditTransaction snapshot satisfies after-before == amount and
//     commits in the same transaction as the balance update
type LedgerService struct {
	accounts     AccountStore
	transactions TransactionStore
	logger       *zap.SugaredLogger
}

func NewLedgerService(accounts AccountStore, transactions TransactionStore, logger *zap.SugaredLogger) *LedgerService {
	return &LedgerService{
		accounts:     accounts,
		transactions: transactions,
		logger:       logger,
	}
}

// ApplyParams describes one ledger mutation.
type ApplyParams struct {
	UserID      string
	OrgID       string
	Delta       int64
	Type        string
	Description string
	ReferenceID string
	Metadata    model.TransactionMetadata

	// ClampAtZero marks an administrative override: a debit larger than the
	// balance lands on zero instead of failing. Never set for usage debits.
	ClampAtZero bool
}

// ApplyResult reports the committed mutation.
type ApplyResult struct {
	BalanceBefore int64
	NewBalance    int64
	Transaction   *model.CreditTransaction
}

// Apply mutates the balance and appends the ledger entry. Must be called
// inside a transaction; both writes commit together or not at all.
func (s *LedgerService) Apply(ctx context.Context, tx *gorm.DB, p ApplyParams) (*ApplyResult, error) {
	account, err := s.accounts.GetForUpdate(ctx, tx, p.UserID, p.OrgID)
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}

	newBalance := account.Balance + p.Delta
	if newBalance < 0 {
		if !p.ClampAtZero {
			return nil, repository.ErrInsufficientBalance
		}
		newBalance = 0
	}
	// Effective amount after clamping; equals p.Delta in the normal case.
	amount := newBalance - account.Balance

	metadata := ""
	if p.Metadata != nil {
		metadata, err = model.EncodeMetadata(p.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
	}

	trans := &model.CreditTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        p.UserID,
		OrgID:         p.OrgID,
		Type:          p.Type,
		Amount:        amount,
		BalanceBefore: account.Balance,
		BalanceAfter:  newBalance,
		Description:   p.Description,
		ReferenceID:   p.ReferenceID,
		Metadata:      metadata,
	}
	if trans.BalanceAfter-trans.BalanceBefore != trans.Amount {
		return nil, fmt.Errorf("ledger snapshot mismatch: before=%d after=%d amount=%d",
			trans.BalanceBefore, trans.BalanceAfter, trans.Amount)
	}

	if err := s.transactions.Create(ctx, tx, trans); err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}
	if err := s.accounts.UpdateBalance(ctx, tx, account.ID, newBalance); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	return &ApplyResult{
		BalanceBefore: account.Balance,
		NewBalance:    newBalance,
		Transaction:   trans,
	}, nil
}

// GrantFeatures unlocks feature flags with a zero-amount ledger entry so the
// grant shows up in the same audit trail as credit movements.
func (s *LedgerService) GrantFeatures(ctx context.Context, tx *gorm.DB, p ApplyParams, flags model.FeatureFlags) (*ApplyResult, error) {
	if flags.Empty() {
		return nil, fmt.Errorf("feature grant with no flags")
	}

	account, err := s.accounts.GetForUpdate(ctx, tx, p.UserID, p.OrgID)
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}

	metadata := ""
	if p.Metadata != nil {
		metadata, err = model.EncodeMetadata(p.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
	}

	trans := &model.CreditTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        p.UserID,
		OrgID:         p.OrgID,
		Type:          p.Type,
		Amount:        0,
		BalanceBefore: account.Balance,
		BalanceAfter:  account.Balance,
		Description:   p.Description,
		ReferenceID:   p.ReferenceID,
		Metadata:      metadata,
	}
	if err := s.transactions.Create(ctx, tx, trans); err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}
	if err := s.accounts.EnableFeatures(ctx, tx, account.ID, flags); err != nil {
		return nil, fmt.Errorf("enable features: %w", err)
	}

	return &ApplyResult{
		BalanceBefore: account.Balance,
		NewBalance:    account.Balance,
		Transaction:   trans,
	}, nil
}

// GetAccount returns the account, creating it on first touch.
func (s *LedgerService) GetAccount(ctx context.Context, userID, orgID string) (*model.Account, error) {
	return s.accounts.GetOrCreate(ctx, userID, orgID)
}

// ListTransactions returns the account's ledger history, newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, userID, orgID string, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	return s.transactions.ListByAccount(ctx, userID, orgID, page, pageSize)
}

// ReconcileResult compares the serving balance against the ledger sum.
type ReconcileResult struct {
	Balance    int64 `json:"balance"`
	LedgerSum  int64 `json:"ledger_sum"`
	Consistent bool  `json:"consistent"`
}

// Reconcile recomputes the balance from the ledger. The two can only drift
// if a write bypassed Apply, so an inconsistent result is an incident.
func (s *LedgerService) Reconcile(ctx context.Context, userID, orgID string) (*ReconcileResult, error) {
	account, err := s.accounts.Get(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	sum, err := s.transactions.SumByAccount(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if account.Balance != sum {
		s.logger.Errorw("ledger drift detected",
			"user_id", userID,
			"org_id", orgID,
			"balance", account.Balance,
			"ledger_sum", sum,
		)
	}
	return &ReconcileResult{
		Balance:    account.Balance,
		LedgerSum:  sum,
		Consistent: account.Balance == sum,
	}, nil
}
