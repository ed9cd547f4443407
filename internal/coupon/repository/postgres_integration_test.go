//go:build integration

package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dessertmap/internal/coupon"
	"dessertmap/pkg/db/dbtest"
)

func startPostgres(t *testing.T) *sqlx.DB {
	t.Helper()
	return dbtest.Start(t, Schema)
}

func seedCoupon(t *testing.T, repo *PostgresCouponRepository, conn *sqlx.DB, quantity *int, expiresAt *time.Time) *coupon.Coupon {
	t.Helper()
	storeID := dbtest.SeedStore(t, conn, "Choux Lab", 1)

	draft := coupon.CouponDraft{
		Name:      "Free eclair",
		Benefit:   coupon.GiftBenefit{MenuItemName: "eclair"},
		Condition: coupon.ExclusiveCondition{},
		ExpiresAt: expiresAt,
		Quantity:  quantity,
	}
	c := draft.Coupon(storeID, time.Now().UTC())
	require.NoError(t, repo.CreateCoupon(context.Background(), c))
	return c
}

// issue проходит шаги выдачи на уровне репозитория с заданным кодом.
func issue(ctx context.Context, repo *PostgresCouponRepository, c *coupon.Coupon, userID int64, code string) error {
	return repo.WithinTx(ctx, func(tx coupon.TxRepository) error {
		locked, err := tx.LockCoupon(ctx, c.UUID)
		if err != nil {
			return err
		}
		issued, err := tx.HasIssued(ctx, userID, locked.ID)
		if err != nil {
			return err
		}
		if issued {
			return coupon.ErrAlreadyIssued
		}
		if locked.Bounded() {
			if _, ok, err := tx.DecrementQuantity(ctx, locked.ID); err != nil {
				return err
			} else if !ok {
				return coupon.ErrOutOfStock
			}
		}
		ok, err := tx.InsertVoucher(ctx, &coupon.IssuedVoucher{UserID: userID, CouponID: locked.ID, Code: code, IssuedAt: time.Now()})
		if err != nil {
			return err
		}
		if !ok {
			return coupon.ErrCodeGenerationExhausted
		}
		return nil
	})
}

func TestConcurrentIssuanceNeverOversells(t *testing.T) {
	conn := startPostgres(t)
	repo := NewPostgresCouponRepository(conn, 5*time.Second)
	ctx := context.Background()

	qty := 10
	c := seedCoupon(t, repo, conn, &qty, nil)

	const workers = 40
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, soldOut := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			err := issue(ctx, repo, c, userID, fmt.Sprintf("CODE%04d", userID))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case coupon.KindOf(err) == coupon.KindConflict:
				soldOut++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, qty, successes)
	assert.Equal(t, workers-qty, soldOut)

	got, err := repo.GetCoupon(ctx, c.UUID)
	require.NoError(t, err)
	require.NotNil(t, got.Quantity)
	assert.Equal(t, 0, *got.Quantity)
}

func TestUniqueUserCouponMapsToAlreadyIssued(t *testing.T) {
	conn := startPostgres(t)
	repo := NewPostgresCouponRepository(conn, 5*time.Second)
	ctx := context.Background()

	c := seedCoupon(t, repo, conn, nil, nil)
	require.NoError(t, issue(ctx, repo, c, 1, "AAAA2222"))

	// минуя проверку EXISTS, упираемся прямо в ограничение
	err := repo.WithinTx(ctx, func(tx coupon.TxRepository) error {
		_, err := tx.InsertVoucher(ctx, &coupon.IssuedVoucher{UserID: 1, CouponID: c.ID, Code: "BBBB3333", IssuedAt: time.Now()})
		return err
	})
	assert.ErrorIs(t, err, coupon.ErrAlreadyIssued)
}

func TestCodeCollisionDoesNotAbortTransaction(t *testing.T) {
	conn := startPostgres(t)
	repo := NewPostgresCouponRepository(conn, 5*time.Second)
	ctx := context.Background()

	qty := 5
	c := seedCoupon(t, repo, conn, &qty, nil)
	require.NoError(t, issue(ctx, repo, c, 1, "SAME2345"))

	err := repo.WithinTx(ctx, func(tx coupon.TxRepository) error {
		if _, _, err := tx.DecrementQuantity(ctx, c.ID); err != nil {
			return err
		}
		ok, err := tx.InsertVoucher(ctx, &coupon.IssuedVoucher{UserID: 2, CouponID: c.ID, Code: "SAME2345", IssuedAt: time.Now()})
		require.NoError(t, err)
		require.False(t, ok)

		ok, err = tx.InsertVoucher(ctx, &coupon.IssuedVoucher{UserID: 2, CouponID: c.ID, Code: "OTHR2345", IssuedAt: time.Now()})
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	})
	require.NoError(t, err)

	got, err := repo.GetCoupon(ctx, c.UUID)
	require.NoError(t, err)
	assert.Equal(t, 3, *got.Quantity)
}

func TestFailedIssuanceRollsBackDecrement(t *testing.T) {
	conn := startPostgres(t)
	repo := NewPostgresCouponRepository(conn, 5*time.Second)
	ctx := context.Background()

	qty := 2
	c := seedCoupon(t, repo, conn, &qty, nil)

	err := repo.WithinTx(ctx, func(tx coupon.TxRepository) error {
		if _, _, err := tx.DecrementQuantity(ctx, c.ID); err != nil {
			return err
		}
		return coupon.ErrCodeGenerationExhausted
	})
	assert.ErrorIs(t, err, coupon.ErrCodeGenerationExhausted)

	got, err := repo.GetCoupon(ctx, c.UUID)
	require.NoError(t, err)
	assert.Equal(t, 2, *got.Quantity)
}

func TestConcurrentMarkUsedSucceedsOnce(t *testing.T) {
	conn := startPostgres(t)
	repo := NewPostgresCouponRepository(conn, 5*time.Second)
	ctx := context.Background()

	c := seedCoupon(t, repo, conn, nil, nil)
	require.NoError(t, issue(ctx, repo, c, 1, "SCAN2345"))

	const scanners = 8
	var wg sync.WaitGroup
	results := make(chan bool, scanners)
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var flipped bool
			err := repo.WithinTx(ctx, func(tx coupon.TxRepository) error {
				v, _, err := tx.LockVoucherByCode(ctx, "SCAN2345")
				if err != nil {
					return err
				}
				if v.State == coupon.StateUsed {
					return nil
				}
				flipped, err = tx.MarkUsed(ctx, v.ID, time.Now())
				return err
			})
			assert.NoError(t, err)
			results <- flipped
		}()
	}
	wg.Wait()
	close(results)

	count := 0
	for ok := range results {
		if ok {
			count++
		}
	}
	assert.Equal(t, 1, count)

	views, err := repo.ListVouchers(ctx, 1)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, coupon.StateUsed, views[0].State)
	assert.NotNil(t, views[0].UsedAt)
}

func TestLockVoucherByCodeMissing(t *testing.T) {
	conn := startPostgres(t)
	repo := NewPostgresCouponRepository(conn, time.Second)
	ctx := context.Background()

	err := repo.WithinTx(ctx, func(tx coupon.TxRepository) error {
		_, _, err := tx.LockVoucherByCode(ctx, "NOPE2345")
		return err
	})
	assert.ErrorIs(t, err, coupon.ErrCodeNotFound)
}

func TestLockTimeoutIsTransient(t *testing.T) {
	conn := startPostgres(t)
	repo := NewPostgresCouponRepository(conn, 200*time.Millisecond)
	ctx := context.Background()

	c := seedCoupon(t, repo, conn, nil, nil)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- repo.WithinTx(ctx, func(tx coupon.TxRepository) error {
			if _, err := tx.LockCoupon(ctx, c.UUID); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := repo.WithinTx(ctx, func(tx coupon.TxRepository) error {
		_, err := tx.LockCoupon(ctx, c.UUID)
		return err
	})
	close(release)
	require.NoError(t, <-done)

	assert.ErrorIs(t, err, coupon.ErrLockTimeout)
	assert.True(t, coupon.IsRetryable(err))
}

func TestListStoreCouponsAndStore(t *testing.T) {
	conn := startPostgres(t)
	repo := NewPostgresCouponRepository(conn, time.Second)
	ctx := context.Background()

	c := seedCoupon(t, repo, conn, nil, nil)

	store, err := repo.GetStore(ctx, c.StoreID)
	require.NoError(t, err)
	assert.Equal(t, "Choux Lab", store.Name)

	list, err := repo.ListStoreCoupons(ctx, c.StoreID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c.UUID, list[0].UUID)
	assert.Equal(t, "Choux Lab", list[0].StoreName)
	assert.Equal(t, coupon.ExclusiveCondition{}, list[0].Condition.Condition)

	_, err = repo.GetStore(ctx, 999999)
	assert.ErrorIs(t, err, coupon.ErrStoreNotFound)
}
