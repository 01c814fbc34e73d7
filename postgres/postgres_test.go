package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/zoobzio/stencil"
)

const manifestV1 = `name: exam-note
template: "Remember to review {{topic}} before the exam."
variables:
  - name: topic
    required: true
    default: algebra
`

const manifestV2 = `name: exam-note
template: "Remember to review {{topic}} before the {{event}}."
variables:
  - name: topic
    required: true
    default: algebra
  - name: event
    default: exam
`

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
	})

	// Create manifest table and trigger
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS manifests (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL
		);

		CREATE OR REPLACE FUNCTION notify_manifest_change() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('manifest_changed', NEW.key);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql;

		DROP TRIGGER IF EXISTS manifest_change_trigger ON manifests;
		CREATE TRIGGER manifest_change_trigger
			AFTER INSERT OR UPDATE ON manifests
			FOR EACH ROW EXECUTE FUNCTION notify_manifest_change();
	`)
	if err != nil {
		t.Fatalf("failed to setup schema: %v", err)
	}

	return pool
}

func TestSource_EmitsInitialValue(t *testing.T) {
	pool := setupPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := "exam-note"
	_, err := pool.Exec(ctx, "INSERT INTO manifests (key, value) VALUES ($1, $2)", key, []byte(manifestV1))
	if err != nil {
		t.Fatalf("failed to insert initial value: %v", err)
	}

	source := New(pool, "manifest_changed", key)
	ch, err := source.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	select {
	case data := <-ch:
		manifest, err := stencil.ParseManifest(data)
		if err != nil {
			t.Fatalf("failed to parse manifest: %v", err)
		}
		if manifest.Name != "exam-note" {
			t.Errorf("expected manifest name exam-note, got %s", manifest.Name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for initial value")
	}
}

func TestSource_EmitsOnChange(t *testing.T) {
	pool := setupPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := "exam-note"
	_, err := pool.Exec(ctx, "INSERT INTO manifests (key, value) VALUES ($1, $2)", key, []byte(manifestV1))
	if err != nil {
		t.Fatalf("failed to insert initial value: %v", err)
	}

	source := New(pool, "manifest_changed", key)
	ch, err := source.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// Drain initial value
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for initial value")
	}

	// Update value
	_, err = pool.Exec(ctx, "UPDATE manifests SET value = $1 WHERE key = $2", []byte(manifestV2), key)
	if err != nil {
		t.Fatalf("failed to update value: %v", err)
	}

	// Should receive update
	select {
	case data := <-ch:
		manifest, err := stencil.ParseManifest(data)
		if err != nil {
			t.Fatalf("failed to parse manifest: %v", err)
		}
		if len(manifest.Variables) != 2 {
			t.Errorf("expected 2 variables in updated manifest, got %d", len(manifest.Variables))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for update")
	}
}

func TestSource_ClosesOnContextCancel(t *testing.T) {
	pool := setupPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	key := "exam-note"
	_, err := pool.Exec(ctx, "INSERT INTO manifests (key, value) VALUES ($1, $2)", key, []byte(manifestV1))
	if err != nil {
		t.Fatalf("failed to insert value: %v", err)
	}

	source := New(pool, "manifest_changed", key)
	ch, err := source.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// Drain initial
	<-ch

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestSource_IgnoresOtherKeys(t *testing.T) {
	pool := setupPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := "exam-note"
	otherKey := "welcome-email"

	_, err := pool.Exec(ctx, "INSERT INTO manifests (key, value) VALUES ($1, $2)", key, []byte(manifestV1))
	if err != nil {
		t.Fatalf("failed to insert value: %v", err)
	}

	source := New(pool, "manifest_changed", key)
	ch, err := source.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// Drain initial
	<-ch

	// Update a different key
	_, err = pool.Exec(ctx, "INSERT INTO manifests (key, value) VALUES ($1, $2)", otherKey, []byte(manifestV2))
	if err != nil {
		t.Fatalf("failed to insert other key: %v", err)
	}

	// Should not receive update for other key
	select {
	case data := <-ch:
		t.Errorf("did not expect update, got %q", data)
	case <-time.After(500 * time.Millisecond):
		// Expected - no update for other key
	}

	// Update our key
	_, err = pool.Exec(ctx, "UPDATE manifests SET value = $1 WHERE key = $2", []byte(manifestV2), key)
	if err != nil {
		t.Fatalf("failed to update value: %v", err)
	}

	// Should receive our update
	select {
	case data := <-ch:
		manifest, err := stencil.ParseManifest(data)
		if err != nil {
			t.Fatalf("failed to parse manifest: %v", err)
		}
		if len(manifest.Variables) != 2 {
			t.Errorf("expected 2 variables in updated manifest, got %d", len(manifest.Variables))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for update")
	}
}

func TestSource_CustomTable(t *testing.T) {
	pool := setupPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS templates (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL
		);

		DROP TRIGGER IF EXISTS template_change_trigger ON templates;
		CREATE TRIGGER template_change_trigger
			AFTER INSERT OR UPDATE ON templates
			FOR EACH ROW EXECUTE FUNCTION notify_manifest_change();
	`)
	if err != nil {
		t.Fatalf("failed to setup custom table: %v", err)
	}

	key := "exam-note"
	_, err = pool.Exec(ctx, "INSERT INTO templates (key, value) VALUES ($1, $2)", key, []byte(manifestV1))
	if err != nil {
		t.Fatalf("failed to insert value: %v", err)
	}

	source := New(pool, "manifest_changed", key, WithTable("templates"))
	ch, err := source.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	select {
	case data := <-ch:
		manifest, err := stencil.ParseManifest(data)
		if err != nil {
			t.Fatalf("failed to parse manifest: %v", err)
		}
		if manifest.Name != "exam-note" {
			t.Errorf("expected manifest name exam-note, got %s", manifest.Name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for initial value")
	}
}
