package mutex

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
	"github.com/vladislavdragonenkov/orderledger/internal/metrics"
)

func TestMemory_SecondAcquireFails(t *testing.T) {
	t.Parallel()

	m := NewMemory(WithMetrics(metrics.NewLedgerMetricsWithRegisterer(prometheus.NewRegistry())))
	ctx := context.Background()

	innerCalled := false
	err := m.WithLock(ctx, "order-1", func(ctx context.Context) error {
		if !m.Held("order-1") {
			t.Fatalf("lock must be held inside fn")
		}
		return m.WithLock(ctx, "order-1", func(context.Context) error {
			innerCalled = true
			return nil
		})
	})
	if !errors.Is(err, domain.ErrLockFailed) {
		t.Fatalf("expected ErrLockFailed, got %v", err)
	}
	if innerCalled {
		t.Fatalf("fn must not run without the lock")
	}
	if m.Held("order-1") {
		t.Fatalf("lock must be released after fn")
	}
}

func TestMemory_IndependentOrders(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	err := m.WithLock(context.Background(), "order-1", func(ctx context.Context) error {
		return m.WithLock(ctx, "order-2", func(context.Context) error { return nil })
	})
	if err != nil {
		t.Fatalf("different orders must not block each other: %v", err)
	}
}

func TestMemory_ReleasesOnErrorAndPanic(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	boom := errors.New("boom")
	if err := m.WithLock(context.Background(), "order-1", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if m.Held("order-1") {
		t.Fatalf("lock must be released after error")
	}

	func() {
		defer func() { _ = recover() }()
		_ = m.WithLock(context.Background(), "order-1", func(context.Context) error { panic("fail") })
	}()
	if m.Held("order-1") {
		t.Fatalf("lock must be released after panic")
	}
}

func TestMemory_ConcurrentCallersAreExclusive(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
		failed  int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithLock(context.Background(), "order-1", func(context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxSeen)
	}
	if failed == 20 {
		t.Fatalf("at least one caller must acquire the lock")
	}
}

func TestPostgres_AcquireAndRelease(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(hashtext\(\$1\)\)`).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectQuery(`SELECT pg_advisory_unlock\(hashtext\(\$1\)\)`).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))

	called := false
	err = NewPostgres(db).WithLock(context.Background(), "order-1", func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock() error = %v", err)
	}
	if !called {
		t.Fatalf("fn was not called")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgres_BusyLock(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	err = NewPostgres(db).WithLock(context.Background(), "order-1", func(context.Context) error {
		t.Fatalf("fn must not run when the lock is busy")
		return nil
	})
	if !errors.Is(err, domain.ErrLockFailed) {
		t.Fatalf("expected ErrLockFailed, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRedis_Integration(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("OMS_REDIS_ADDR"))
	if addr == "" {
		t.Skip("OMS_REDIS_ADDR is not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	m := NewRedis(client, WithTTL(5*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Ping(ctx); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	orderID := "mutex-test-" + time.Now().Format("150405.000000")
	err := m.WithLock(ctx, orderID, func(ctx context.Context) error {
		return m.WithLock(ctx, orderID, func(context.Context) error { return nil })
	})
	if !errors.Is(err, domain.ErrLockFailed) {
		t.Fatalf("expected ErrLockFailed for nested lock, got %v", err)
	}

	if err := m.WithLock(ctx, orderID, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("lock must be released after fn: %v", err)
	}
}
