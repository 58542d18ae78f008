package session

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/congo-pay/billpay/internal/kvstore"
	"github.com/congo-pay/billpay/internal/logging"
)

// tornStore applies SetMany one key at a time and fails after failAfter
// writes, the way a store without transactions would.
type tornStore struct {
	kvstore.Store
	failAfter int
	writes    int
}

func (s *tornStore) SetMany(ctx context.Context, values map[string]string) error {
	for k, v := range values {
		if s.writes >= s.failAfter {
			return errors.New("disk full")
		}
		if err := s.Store.Set(ctx, k, v); err != nil {
			return err
		}
		s.writes++
	}
	return nil
}

const rawProfile = `{"_id":"u1","firstName":"Ada","wallet":{"balance":100}}`

func testSession(t *testing.T) Session {
	t.Helper()
	user, err := ParseProfile([]byte(rawProfile))
	if err != nil {
		t.Fatalf("parse profile: %v", err)
	}
	return Session{Token: "tok", User: user, Phone: "08011112222", RequirePinOnOpen: true}
}

func TestSaveAndLoad(t *testing.T) {
	repo := NewRepository(kvstore.NewMemory(), logging.Discard())
	ctx := context.Background()

	if err := repo.Save(ctx, testSession(t)); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Token != "tok" || got.User.ID != "u1" || got.User.FirstName != "Ada" {
		t.Fatalf("unexpected session %+v", got)
	}
	if got.Phone != "08011112222" || !got.RequirePinOnOpen {
		t.Fatalf("unexpected phone or flag: %q %v", got.Phone, got.RequirePinOnOpen)
	}

	var want, have any
	_ = json.Unmarshal([]byte(rawProfile), &want)
	if err := json.Unmarshal(got.User.Raw, &have); err != nil {
		t.Fatalf("decode raw profile: %v", err)
	}
	if !reflect.DeepEqual(want, have) {
		t.Fatalf("raw profile not preserved: %s", got.User.Raw)
	}
}

func TestSaveFailureLeavesNothingReadable(t *testing.T) {
	for failAfter := 0; failAfter < len(kvstore.SessionKeys); failAfter++ {
		store := &tornStore{Store: kvstore.NewMemory(), failAfter: failAfter}
		repo := NewRepository(store, logging.Discard())
		ctx := context.Background()

		if err := repo.Save(ctx, testSession(t)); !errors.Is(err, ErrPersist) {
			t.Fatalf("failAfter=%d: expected ErrPersist, got %v", failAfter, err)
		}

		for _, key := range kvstore.SessionKeys {
			if _, err := store.Get(ctx, key); !errors.Is(err, kvstore.ErrNotFound) {
				t.Fatalf("key %s readable after failing at write %d", key, failAfter)
			}
		}
		if _, err := repo.Load(ctx); !errors.Is(err, ErrNoSession) {
			t.Fatalf("failAfter=%d: expected ErrNoSession, got %v", failAfter, err)
		}
	}
}

func TestLoadDiscardsPartialSession(t *testing.T) {
	store := kvstore.NewMemory()
	ctx := context.Background()
	if err := store.SetMany(ctx, map[string]string{
		kvstore.KeySessionToken: "tok",
		kvstore.KeySessionPhone: "08011112222",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	repo := NewRepository(store, logging.Discard())

	if _, err := repo.Load(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if _, err := store.Get(ctx, kvstore.KeySessionToken); !errors.Is(err, kvstore.ErrNotFound) {
		t.Fatalf("token without user must not stay observable: %v", err)
	}
}

func TestSaveRejectsIncompleteSession(t *testing.T) {
	repo := NewRepository(kvstore.NewMemory(), logging.Discard())
	s := testSession(t)
	s.Token = ""
	if err := repo.Save(context.Background(), s); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}

func TestClearAndRequirePin(t *testing.T) {
	repo := NewRepository(kvstore.NewMemory(), logging.Discard())
	ctx := context.Background()
	if err := repo.Save(ctx, testSession(t)); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := repo.SetRequirePin(ctx, false); err != nil {
		t.Fatalf("set require pin: %v", err)
	}
	got, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.RequirePinOnOpen {
		t.Fatalf("expected require pin to be cleared")
	}

	if err := repo.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := repo.Load(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after clear, got %v", err)
	}
	if err := repo.SetRequirePin(ctx, true); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestSessionSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	ctx := context.Background()

	store, err := kvstore.OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := NewRepository(store, logging.Discard()).Save(ctx, testSession(t)); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened, err := kvstore.OpenFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := NewRepository(reopened, logging.Discard()).Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.User.ID != "u1" {
		t.Fatalf("expected u1, got %q", got.User.ID)
	}
}

func TestParseProfileRequiresID(t *testing.T) {
	if _, err := ParseProfile([]byte(`{"firstName":"Ada"}`)); err == nil {
		t.Fatalf("expected error for profile without id")
	}
	if _, err := ParseProfile(nil); err == nil {
		t.Fatalf("expected error for empty profile")
	}
}
