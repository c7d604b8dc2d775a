package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testRecord() Record {
	return Record{
		ID:        "sess-1",
		Token:     "tok",
		Subject:   "ana@clinic.example",
		ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}
}

// --- MemoryStore ---

func TestMemoryStore_LoadNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Load(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_SaveAndLoad(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	rec := testRecord()

	if err := store.Save(ctx, rec, time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := store.Load(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Token != "tok" || got.Subject != rec.Subject {
		t.Errorf("Load() = %+v", got)
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Save(ctx, testRecord(), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, err := store.Load(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() err = %v, want ErrNotFound (expired)", err)
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after expired load", store.Len())
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Save(ctx, testRecord(), time.Minute)
	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Errorf("Delete() of missing record error = %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0", store.Len())
	}
}

// --- RedisStore ---

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return mr, client
}

func TestRedisStore_LoadNotFound(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client)

	_, err := store.Load(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() err = %v, want ErrNotFound", err)
	}
}

func TestRedisStore_SaveAndLoad(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()
	rec := testRecord()

	if err := store.Save(ctx, rec, 5*time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !mr.Exists("vetdesk:session:sess-1") {
		t.Fatal("expected key vetdesk:session:sess-1 in redis")
	}

	got, err := store.Load(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Token != rec.Token || got.Subject != rec.Subject {
		t.Errorf("Load() = %+v, want %+v", got, rec)
	}
	if !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, rec.ExpiresAt)
	}
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()

	if err := store.Save(ctx, testRecord(), time.Second); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	mr.FastForward(2 * time.Second)

	if _, err := store.Load(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() err = %v, want ErrNotFound (expired)", err)
	}
}

func TestRedisStore_Delete(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()

	_ = store.Save(ctx, testRecord(), time.Minute)
	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if mr.Exists("vetdesk:session:sess-1") {
		t.Error("key still present after Delete")
	}
}

func TestRedisStore_corruptRecord(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client)

	_ = mr.Set("vetdesk:session:bad", "{not json")
	_, err := store.Load(context.Background(), "bad")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Load() err = %v, want decode error", err)
	}
}

func TestRedisStore_HealthCheck(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client)

	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	mr.Close()
	if err := store.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() should fail when redis is down")
	}
}

func TestManager_withRedisStore(t *testing.T) {
	_, client := newTestRedis(t)
	m := NewManager(NewRedisStore(client), time.Hour)
	ctx := context.Background()

	s, _ := m.Open(ctx, "sess-9")
	s.SetToken("opaque")
	if err := m.Save(ctx, s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := m.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	again, err := m.Open(ctx, "sess-9")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if tok, _ := again.BearerToken(); tok != "opaque" {
		t.Errorf("token = %q, want opaque", tok)
	}
}
