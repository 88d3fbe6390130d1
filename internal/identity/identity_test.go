package identity_test

import (
	"context"
	"sync"
	"testing"

	"gofer/internal/db"
	"gofer/internal/identity"
	"gofer/internal/migrate"
	"gofer/internal/repo"
)

func newResolver(t *testing.T) identity.Resolver {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return identity.New(repo.Repo{DB: conn})
}

func TestResolveIsIdempotent(t *testing.T) {
	r := newResolver(t)
	ctx := context.Background()
	first, err := r.Resolve(ctx, "U123")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := r.Resolve(ctx, "U123")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("ids differ: %s vs %s", first.ID, second.ID)
	}
	if second.ExternalID != "U123" {
		t.Fatalf("external_id = %q", second.ExternalID)
	}
}

func TestResolveDistinctIdentities(t *testing.T) {
	r := newResolver(t)
	ctx := context.Background()
	a, err := r.Resolve(ctx, "U1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Resolve(ctx, "U2")
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Fatal("distinct identities mapped to one user")
	}
}

func TestResolveRejectsEmpty(t *testing.T) {
	r := newResolver(t)
	if _, err := r.Resolve(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty external id")
	}
}

func TestConcurrentResolveSingleUser(t *testing.T) {
	r := newResolver(t)
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := r.Resolve(ctx, "U-race")
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = u.ID
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("resolver %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("resolver %d got %s, want %s", i, ids[i], ids[0])
		}
	}
}
