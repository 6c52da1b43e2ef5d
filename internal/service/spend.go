package service

import (
	"context"
	"fmt"

	"creditledger/internal/config"
	"creditledger/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SpendService debits usage. The first FreeGenerationAllowance generations
// per account are free and only bump the lifetime counter; after that each
// generation costs one credit and an insufficient balance rejects the spend
// outright.
type SpendService struct {
	txm      TxManager
	accounts AccountStore
	ledger   *LedgerService
	cfg      *config.Config
	logger   *zap.SugaredLogger
}

func NewSpendService(txm TxManager, accounts AccountStore, ledger *LedgerService, cfg *config.Config, logger *zap.SugaredLogger) *SpendService {
	return &SpendService{
		txm:      txm,
		accounts: accounts,
		ledger:   ledger,
		cfg:      cfg,
		logger:   logger,
	}
}

// SpendResult reports one usage debit.
type SpendResult struct {
	UsedFreeTier  bool  `json:"used_free_tier"`
	FreeRemaining int64 `json:"free_remaining"`
	Balance       int64 `json:"balance"`
}

// SpendGeneration charges one card generation against the account.
func (s *SpendService) SpendGeneration(ctx context.Context, userID, orgID, cardID string) (*SpendResult, error) {
	if _, err := s.accounts.GetOrCreate(ctx, userID, orgID); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	allowance := s.cfg.Business.FreeGenerationAllowance
	var result SpendResult
	err := s.txm.InTx(ctx, func(tx *gorm.DB) error {
		account, err := s.accounts.GetForUpdate(ctx, tx, userID, orgID)
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}

		if account.CardGenerationCount < allowance {
			if err := s.accounts.IncrementGenerationCount(ctx, tx, account.ID); err != nil {
				return fmt.Errorf("increment generation count: %w", err)
			}
			result = SpendResult{
				UsedFreeTier:  true,
				FreeRemaining: allowance - account.CardGenerationCount - 1,
				Balance:       account.Balance,
			}
			return nil
		}

		applied, err := s.ledger.Apply(ctx, tx, ApplyParams{
			UserID:      userID,
			OrgID:       orgID,
			Delta:       -1,
			Type:        model.TransactionTypeUsage,
			Description: "Card generation",
			Metadata: model.UsageMetadata{
				UsageKind: "card_generation",
				CardID:    cardID,
			},
		})
		if err != nil {
			return err
		}
		if err := s.accounts.IncrementGenerationCount(ctx, tx, account.ID); err != nil {
			return fmt.Errorf("increment generation count: %w", err)
		}
		result = SpendResult{Balance: applied.NewBalance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
