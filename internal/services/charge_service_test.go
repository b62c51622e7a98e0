package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aistylehub/tokenledger/internal/models"
)

func newChargeFixture(t *testing.T) (*memStore, *ChargeService) {
	t.Helper()
	st := newMemStore()
	ledger := NewLedgerService(st, st, nil, nil)
	return st, NewChargeService(st, st, st, auditView{st}, ledger)
}

func TestPreflight(t *testing.T) {
	st, svc := newChargeFixture(t)
	accountID := seedAccount(t, st, 2)

	res, err := svc.Preflight(context.Background(), accountID, 2)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if !res.Allowed || res.Balance != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}

	res, err = svc.Preflight(context.Background(), accountID, 3)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if res.Allowed {
		t.Fatal("allowed with deficit")
	}
	if res.Deficit != 1 || res.SuggestedPackage == "" {
		t.Fatalf("deficit detail missing: %+v", res)
	}

	// Preflight never mutates.
	acct, _ := st.GetByID(context.Background(), accountID)
	if acct.TokenBalance != 2 || acct.TotalUsed != 0 {
		t.Fatalf("preflight mutated state: %+v", acct)
	}
}

func TestCommitChargeInsufficientBalance(t *testing.T) {
	st, svc := newChargeFixture(t)
	accountID := seedAccount(t, st, 1)

	_, err := svc.CommitCharge(context.Background(), accountID, 2, "generate_image", nil)
	var detail *InsufficientBalanceError
	if !errors.As(err, &detail) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatal("detail must unwrap to ErrInsufficientBalance")
	}
	if detail.Balance != 1 || detail.Required != 2 || detail.Deficit != 1 {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	if detail.SuggestedPackage == "" {
		t.Fatal("no package suggested for the deficit")
	}
	if n := eventCount(st, models.EventInsufficientBalance); n != 1 {
		t.Fatalf("insufficient-balance audit events = %d, want 1", n)
	}

	// The rejected debit left everything untouched.
	acct, _ := st.GetByID(context.Background(), accountID)
	if acct.TokenBalance != 1 || acct.TotalUsed != 0 {
		t.Fatalf("rejected debit mutated balance: %+v", acct)
	}
	reconcile(t, st, accountID)
}

// Concurrent commits against a balance covering only some of them: the
// winners drain the balance, the losers fail cleanly, and the balance
// never goes negative.
func TestCommitChargeConcurrent(t *testing.T) {
	st, svc := newChargeFixture(t)
	accountID := seedAccount(t, st, 5)

	const callers = 10 // cost 1 each, 5 must succeed
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CommitCharge(context.Background(), accountID, 1, "try_on", nil)
		}(i)
	}
	wg.Wait()

	ok, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 5 || insufficient != 5 {
		t.Fatalf("ok=%d insufficient=%d, want 5/5", ok, insufficient)
	}
	acct, _ := st.GetByID(context.Background(), accountID)
	if acct.TokenBalance != 0 {
		t.Fatalf("balance = %d, want 0", acct.TokenBalance)
	}
	reconcile(t, st, accountID)
}

func TestReserveCommitRelease(t *testing.T) {
	st, svc := newChargeFixture(t)
	accountID := seedAccount(t, st, 3)

	res, err := svc.Reserve(context.Background(), accountID, 3, "custom_model")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Status != models.ReservationHeld {
		t.Fatalf("status = %s", res.Status)
	}

	// Tokens are held: a second spend is rejected immediately.
	if _, err := svc.Reserve(context.Background(), accountID, 1, "try_on"); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance while held, got %v", err)
	}

	committed, err := svc.CommitReservation(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if committed.Status != models.ReservationCommitted {
		t.Fatalf("status = %s", committed.Status)
	}

	// A committed reservation cannot be released.
	if _, err := svc.ReleaseReservation(context.Background(), res.ID); err == nil {
		t.Fatal("release after commit succeeded")
	}

	acct, _ := st.GetByID(context.Background(), accountID)
	if acct.TokenBalance != 0 || acct.TotalUsed != 3 {
		t.Fatalf("post-commit account: %+v", acct)
	}
	reconcile(t, st, accountID)
}

func TestReleaseReturnsTokens(t *testing.T) {
	st, svc := newChargeFixture(t)
	accountID := seedAccount(t, st, 2)

	res, err := svc.Reserve(context.Background(), accountID, 2, "generate_image")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	released, err := svc.ReleaseReservation(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Status != models.ReservationReleased {
		t.Fatalf("status = %s", released.Status)
	}

	acct, _ := st.GetByID(context.Background(), accountID)
	if acct.TokenBalance != 2 || acct.TotalUsed != 0 {
		t.Fatalf("release did not restore: %+v", acct)
	}
	reconcile(t, st, accountID)

	if _, err := svc.CommitReservation(context.Background(), "res-nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown reservation: expected ErrNotFound, got %v", err)
	}
}

func TestRefundTokens(t *testing.T) {
	st, svc := newChargeFixture(t)
	accountID := seedAccount(t, st, 5)

	if _, err := svc.CommitCharge(context.Background(), accountID, 3, "custom_model", nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	balance, err := svc.RefundTokens(context.Background(), accountID, 3, "model training failed")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if balance != 5 {
		t.Fatalf("balance = %d, want 5", balance)
	}
	if n := eventCount(st, models.EventTokensRefunded); n != 1 {
		t.Fatalf("refund audit events = %d, want 1", n)
	}
	reconcile(t, st, accountID)

	if _, err := svc.RefundTokens(context.Background(), accountID, 0, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("zero amount: expected ErrValidation, got %v", err)
	}
}
