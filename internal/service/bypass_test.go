package service

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	"creditledger/internal/catalog"
	"creditledger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBypassFixture(t *testing.T) (*BypassService, *fakeAccountStore, *fakeTransactionStore, *fakeAuditStore) {
	t.Helper()
	accounts := newFakeAccountStore()
	transactions := &fakeTransactionStore{}
	audits := &fakeAuditStore{}
	ledger := NewLedgerService(accounts, transactions, testLogger())
	audit := NewAuditService(audits, testLogger())
	svc := NewBypassService(&fakeTxManager{}, ledger, audit, testLogger())
	return svc, accounts, transactions, audits
}

var bypassRefPattern = regexp.MustCompile(`^bypass_\d+_[0-9a-f]{32}$`)

func TestGrantPackageCreditsAndAudits(t *testing.T) {
	svc, accounts, transactions, audits := newBypassFixture(t)
	ctx := context.Background()

	result, err := svc.GrantPackage(ctx, GrantParams{
		AdminID: "admin1", UserID: "u1", OrgID: "org1", SkuID: "credits_2500",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2500), result.NewBalance)
	assert.Regexp(t, bypassRefPattern, result.Transaction.ReferenceID)

	account, err := accounts.Get(ctx, "u1", "org1")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), account.Balance)
	assert.Equal(t, account.Balance, transactions.sum("u1", "org1"))

	require.Len(t, audits.entries, 1)
	assert.Equal(t, "admin1", audits.entries[0].AdminID)
	assert.Equal(t, model.AuditActionBypassPurchase, audits.entries[0].Action)

	// The audit entry must describe the balance movement, not just the SKU.
	var detail map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(audits.entries[0].Metadata), &detail))
	assert.Equal(t, float64(0), detail["balance_before"])
	assert.Equal(t, float64(2500), detail["new_balance"])
	assert.Regexp(t, bypassRefPattern, detail["reference_id"])
}

func TestGrantPackageUnknownSkuStillAudited(t *testing.T) {
	svc, _, transactions, audits := newBypassFixture(t)

	_, err := svc.GrantPackage(context.Background(), GrantParams{
		AdminID: "admin1", UserID: "u1", OrgID: "org1", SkuID: "credits_777",
	})
	assert.ErrorIs(t, err, catalog.ErrSkuNotFound)

	assert.Empty(t, transactions.entries)
	// The failed attempt leaves an audit trail.
	require.Len(t, audits.entries, 1)
	assert.Contains(t, audits.entries[0].Metadata, "error")
}

func TestGrantFeatureUnlocksFlags(t *testing.T) {
	svc, accounts, transactions, audits := newBypassFixture(t)
	ctx := context.Background()

	result, err := svc.GrantFeature(ctx, GrantParams{
		AdminID: "admin1", UserID: "u1", OrgID: "org1", SkuID: "bulk_processing",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Transaction.Amount)

	account, err := accounts.Get(ctx, "u1", "org1")
	require.NoError(t, err)
	assert.True(t, account.BulkProcessing)
	require.Len(t, transactions.entries, 1)
	require.Len(t, audits.entries, 1)
	assert.Equal(t, model.AuditActionFeatureBypass, audits.entries[0].Action)

	var detail map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(audits.entries[0].Metadata), &detail))
	assert.Equal(t, float64(0), detail["balance_before"])
	assert.Equal(t, float64(0), detail["new_balance"])
}

func TestAdjustClampsAtZero(t *testing.T) {
	svc, accounts, _, audits := newBypassFixture(t)
	ctx := context.Background()

	_, err := svc.Adjust(ctx, AdjustParams{
		AdminID: "admin1", UserID: "u1", OrgID: "org1", Delta: 40, Reason: "goodwill",
	})
	require.NoError(t, err)

	result, err := svc.Adjust(ctx, AdjustParams{
		AdminID: "admin1", UserID: "u1", OrgID: "org1", Delta: -100, Reason: "correction",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.NewBalance)
	assert.Equal(t, int64(-40), result.Transaction.Amount)

	account, err := accounts.Get(ctx, "u1", "org1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.Balance)
	assert.Len(t, audits.entries, 2)
}

func TestAdjustRejectsZeroDelta(t *testing.T) {
	svc, _, _, _ := newBypassFixture(t)

	_, err := svc.Adjust(context.Background(), AdjustParams{
		AdminID: "admin1", UserID: "u1", OrgID: "org1", Delta: 0, Reason: "noop",
	})
	assert.Error(t, err)
}
