package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sageclinic/orchestrator/internal/domain/models"
)

func TestTransactionManager_Commit(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	pool := setupTestDB(t)

	txMgr := NewTransactionManager(pool)
	store := NewSessionStore(pool)

	sess := models.NewSession("sess_tx_commit1", "test-user", time.Now())

	err := txMgr.WithTransaction(context.Background(), func(txCtx context.Context) error {
		return store.PutSession(txCtx, sess)
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	retrieved, err := store.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if retrieved.ID != sess.ID {
		t.Error("session should be committed")
	}
}

func TestTransactionManager_Rollback(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	pool := setupTestDB(t)

	txMgr := NewTransactionManager(pool)
	store := NewSessionStore(pool)

	sess := models.NewSession("sess_tx_rollback1", "test-user", time.Now())
	testErr := errors.New("test error")

	err := txMgr.WithTransaction(context.Background(), func(txCtx context.Context) error {
		if err := store.PutSession(txCtx, sess); err != nil {
			return err
		}
		return testErr
	})
	if err != testErr {
		t.Fatalf("expected test error, got %v", err)
	}

	if _, err := store.GetSession(context.Background(), sess.ID); err == nil {
		t.Error("session should have been rolled back")
	}
}

func TestTransactionManager_NestedTransaction(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	pool := setupTestDB(t)

	txMgr := NewTransactionManager(pool)
	store := NewSessionStore(pool)

	sess1 := models.NewSession("sess_tx_nested1", "test-user", time.Now())
	sess2 := models.NewSession("sess_tx_nested2", "test-user", time.Now())

	err := txMgr.WithTransaction(context.Background(), func(txCtx context.Context) error {
		if err := store.PutSession(txCtx, sess1); err != nil {
			return err
		}
		return txMgr.WithTransaction(txCtx, func(nestedCtx context.Context) error {
			return store.PutSession(nestedCtx, sess2)
		})
	})
	if err != nil {
		t.Fatalf("nested transaction failed: %v", err)
	}

	if _, err := store.GetSession(context.Background(), sess1.ID); err != nil {
		t.Error("first session should be committed")
	}
	if _, err := store.GetSession(context.Background(), sess2.ID); err != nil {
		t.Error("second session should be committed")
	}
}

func TestTransactionManager_NestedRollback(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	pool := setupTestDB(t)

	txMgr := NewTransactionManager(pool)
	store := NewSessionStore(pool)

	sess1 := models.NewSession("sess_tx_nested_rb1", "test-user", time.Now())
	sess2 := models.NewSession("sess_tx_nested_rb2", "test-user", time.Now())
	testErr := errors.New("nested error")

	err := txMgr.WithTransaction(context.Background(), func(txCtx context.Context) error {
		if err := store.PutSession(txCtx, sess1); err != nil {
			return err
		}
		return txMgr.WithTransaction(txCtx, func(nestedCtx context.Context) error {
			if err := store.PutSession(nestedCtx, sess2); err != nil {
				return err
			}
			return testErr
		})
	})
	if err != testErr {
		t.Fatalf("expected test error, got %v", err)
	}

	if _, err := store.GetSession(context.Background(), sess1.ID); err == nil {
		t.Error("first session should be rolled back")
	}
	if _, err := store.GetSession(context.Background(), sess2.ID); err == nil {
		t.Error("second session should be rolled back")
	}
}

func TestTransactionManager_GetTx_NoTransaction(t *testing.T) {
	ctx := context.Background()

	tx := GetTx(ctx)
	if tx != nil {
		t.Error("expected nil transaction in empty context")
	}
}

func TestTransactionManager_GetTx_WithTransaction(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	pool := setupTestDB(t)

	txMgr := NewTransactionManager(pool)

	err := txMgr.WithTransaction(context.Background(), func(txCtx context.Context) error {
		tx := GetTx(txCtx)
		if tx == nil {
			t.Error("expected transaction in transaction context")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

func TestTransactionManager_GetConn_Pool(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	pool := setupTestDB(t)

	ctx := context.Background()
	conn := GetConn(ctx, pool)

	if conn == nil {
		t.Error("expected connection from pool")
	}
}

func TestTransactionManager_GetConn_Transaction(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	pool := setupTestDB(t)

	txMgr := NewTransactionManager(pool)

	err := txMgr.WithTransaction(context.Background(), func(txCtx context.Context) error {
		conn := GetConn(txCtx, pool)
		if conn == nil {
			t.Error("expected connection from transaction")
		}

		tx := GetTx(txCtx)
		if tx == nil {
			t.Error("expected transaction in context")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

// setupTestDB connects to a real Postgres instance for integration testing,
// using TEST_DATABASE_URL or, when it is unset, a URL built from the PG*
// variables with local defaults (nix develop sets these).
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := getTestDatabaseURL()
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	cleanupTestData(t, pool)
	t.Cleanup(func() {
		cleanupTestData(t, pool)
		pool.Close()
	})

	return pool
}

func getTestDatabaseURL() string {
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}

	pgHost := os.Getenv("PGHOST")
	pgPort := os.Getenv("PGPORT")
	pgUser := os.Getenv("PGUSER")
	pgDatabase := os.Getenv("PGDATABASE")

	if pgHost == "" {
		pgHost = "localhost"
	}
	if pgPort == "" {
		pgPort = "5432"
	}
	if pgUser == "" {
		pgUser = "postgres"
	}
	if pgDatabase == "" {
		pgDatabase = "orchestrator_test"
	}

	if len(pgHost) > 0 && pgHost[0] == '/' {
		return fmt.Sprintf("postgres://%s@:%s/%s?host=%s&sslmode=disable", pgUser, pgPort, pgDatabase, pgHost)
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=disable", pgUser, pgHost, pgPort, pgDatabase)
}

func cleanupTestData(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx := context.Background()
	_, err := pool.Exec(ctx, `DELETE FROM orchestrator_sessions WHERE id LIKE 'sess_tx_%'`)
	if err != nil {
		t.Logf("cleanup warning: %v", err)
	}
}
