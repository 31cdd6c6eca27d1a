package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisStoreRoundTripWithPrefix(t *testing.T) {
	redis := miniredis.RunT(t)
	s, err := NewRedisStore(redis.Addr(), "", "test:")
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, BidsKey); err != nil || ok {
		t.Fatalf("expected absent key, ok=%v err=%v", ok, err)
	}
	if err := s.Set(ctx, BidsKey, `[]`); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := s.Get(ctx, BidsKey)
	if err != nil || !ok || got != `[]` {
		t.Fatalf("unexpected get: %q ok=%v err=%v", got, ok, err)
	}
	if !redis.Exists("test:" + BidsKey) {
		t.Fatalf("expected prefixed key in redis")
	}
}

func TestRedisStoreBacksTables(t *testing.T) {
	redis := miniredis.RunT(t)
	s, err := NewRedisStore(redis.Addr(), "", "")
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	tables, err := Open(ctx, s)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	listings, err := tables.Listings(ctx)
	if err != nil {
		t.Fatalf("listings: %v", err)
	}
	if len(listings) != 6 {
		t.Fatalf("expected seeded listings in redis, got %d", len(listings))
	}
}

func TestRedisStoreSurfacesErrors(t *testing.T) {
	redis := miniredis.RunT(t)
	s, err := NewRedisStore(redis.Addr(), "", "")
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	defer s.Close()
	redis.Close()
	if _, _, err := s.Get(context.Background(), ListingsKey); err == nil {
		t.Fatalf("expected error after redis shutdown")
	}
}

func TestNewRedisStoreRequiresAddr(t *testing.T) {
	if _, err := NewRedisStore(" ", "", ""); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
