package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jkaninda/sanduku/internal/repl"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sessionFactory(t *testing.T, root string) func() (*repl.Session, error) {
	t.Helper()
	return func() (*repl.Session, error) {
		return repl.NewSession(repl.Options{
			ScratchRoot: root,
			Logger:      discardLogger(),
		})
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	r := NewRegistry(discardLogger())
	defer r.TeardownAll()
	key := new(int)

	a, created, err := r.GetOrCreate(key, sessionFactory(t, t.TempDir()))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !created {
		t.Error("expected first call to create")
	}

	b, created, err := r.GetOrCreate(key, sessionFactory(t, t.TempDir()))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if created {
		t.Error("expected second call to reuse")
	}
	if a != b {
		t.Error("expected the same session for the same key")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestDistinctKeysGetDistinctSessions(t *testing.T) {
	r := NewRegistry(discardLogger())
	defer r.TeardownAll()
	root := t.TempDir()

	// Identity-based keys: two distinct pointers, even if what they
	// point at is equal.
	k1, k2 := new(int), new(int)

	a, _, err := r.GetOrCreate(k1, sessionFactory(t, root))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	b, _, err := r.GetOrCreate(k2, sessionFactory(t, root))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct sessions for distinct keys")
	}

	// Variable stores never bleed across sessions.
	if res, err := a.Run(context.Background(), "secret = 7"); err != nil || !res.Success {
		t.Fatalf("seeding session: err=%v res=%+v", err, res)
	}
	res, err := b.Run(context.Background(), "secret")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success {
		t.Error("expected undefined name in the other session")
	}
}

func TestCreateFailureNotCached(t *testing.T) {
	r := NewRegistry(discardLogger())
	key := new(int)

	boom := errors.New("boom")
	_, _, err := r.GetOrCreate(key, func() (*repl.Session, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected creation error, got %v", err)
	}
	if r.Get(key) != nil {
		t.Error("failed creation must not be cached")
	}
}

func TestConcurrentGetOrCreateSingleSession(t *testing.T) {
	r := NewRegistry(discardLogger())
	defer r.TeardownAll()
	root := t.TempDir()
	key := new(int)

	const callers = 8
	sessions := make([]*repl.Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _, err := r.GetOrCreate(key, sessionFactory(t, root))
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if sessions[i] != sessions[0] {
			t.Fatal("concurrent callers got different sessions for one key")
		}
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRemove(t *testing.T) {
	r := NewRegistry(discardLogger())
	key := new(int)

	s, _, err := r.GetOrCreate(key, sessionFactory(t, t.TempDir()))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	scratch := s.ScratchDir()

	r.Remove(key)
	if r.Get(key) != nil {
		t.Error("expected key to be gone")
	}
	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		t.Errorf("scratch directory not removed: %v", err)
	}
	// Removing an absent key is a no-op.
	r.Remove(key)
}

func TestTeardownAll(t *testing.T) {
	r := NewRegistry(discardLogger())
	root := t.TempDir()

	var scratches []string
	for i := 0; i < 3; i++ {
		s, _, err := r.GetOrCreate(new(int), sessionFactory(t, root))
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		scratches = append(scratches, s.ScratchDir())
	}

	r.TeardownAll()
	if r.Len() != 0 {
		t.Errorf("Len = %d after teardown, want 0", r.Len())
	}
	for _, dir := range scratches {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Errorf("scratch directory %s not removed: %v", dir, err)
		}
	}
}

func TestJanitorSweep(t *testing.T) {
	r := NewRegistry(discardLogger())
	defer r.TeardownAll()
	root := t.TempDir()

	// A live session's scratch directory must survive the sweep.
	live, _, err := r.GetOrCreate(new(int), sessionFactory(t, root))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	// An orphan older than MaxAge must go.
	orphan := filepath.Join(root, scratchPrefix+"orphan")
	if err := os.Mkdir(orphan, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(orphan, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	// A fresh orphan and an unrelated directory must stay.
	fresh := filepath.Join(root, scratchPrefix+"fresh")
	unrelated := filepath.Join(root, "unrelated")
	for _, dir := range []string{fresh, unrelated} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatalf("Mkdir: %v", err)
		}
	}

	j, err := NewJanitor(r, root, "@hourly", time.Hour, discardLogger())
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}
	j.Sweep()

	for _, dir := range []string{live.ScratchDir(), fresh, unrelated} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("expected %s to survive sweep: %v", dir, err)
		}
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Errorf("expected orphan to be removed: %v", err)
	}
}

func TestJanitorRejectsBadSchedule(t *testing.T) {
	r := NewRegistry(discardLogger())
	if _, err := NewJanitor(r, t.TempDir(), "not a schedule", time.Hour, discardLogger()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
