// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"path/filepath"
	"sync"
	"testing"
)

// storeFactories lists the local stores that must behave identically.
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"inmemory": func() Store { return NewInMemoryStore() },
		"sqlite": func() Store {
			s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "kv.db"))
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, factory())
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		r, err := s.Get(context.Background(), "users/nobody@x.com/memories")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if r != nil {
			t.Fatalf("expected nil record, got %+v", r)
		}
	})
}

func TestStoreRoundTrip(t *testing.T) {
	values := map[string]string{
		"empty array": `[]`,
		"nested":      `{"a":{"b":[1,2,{"c":"d"}]},"n":null}`,
		"null":        `null`,
		"string":      `"hello"`,
	}
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for name, raw := range values {
			key := "roundtrip/" + name
			if _, err := s.Set(ctx, key, json.RawMessage(raw)); err != nil {
				t.Fatalf("Set %s: %v", name, err)
			}
			r, err := s.Get(ctx, key)
			if err != nil || r == nil {
				t.Fatalf("Get %s: %v %v", name, r, err)
			}
			if !jsonEqual(t, r.Value, []byte(raw)) {
				t.Errorf("%s: got %s, want %s", name, r.Value, raw)
			}
		}
	})
}

func TestStoreSetBumpsVersionKeepsIdentity(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		first, err := s.Set(ctx, "k", json.RawMessage(`[1]`))
		if err != nil {
			t.Fatalf("Set: %v", err)
		}
		second, err := s.Set(ctx, "k", json.RawMessage(`[1,2]`))
		if err != nil {
			t.Fatalf("Set: %v", err)
		}
		if first.Version == second.Version {
			t.Fatalf("expected version to change, both %q", first.Version)
		}
		if first.ID != second.ID {
			t.Fatalf("expected stable id, got %q then %q", first.ID, second.ID)
		}
		if !second.CreatedAt.Equal(first.CreatedAt) {
			t.Fatalf("createdAt changed on update")
		}
	})
}

func TestStoreSetIfVersion(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		created, err := s.SetIfVersion(ctx, "k", json.RawMessage(`["a"]`), "")
		if err != nil {
			t.Fatalf("create-only write: %v", err)
		}
		if _, err := s.SetIfVersion(ctx, "k", json.RawMessage(`["b"]`), ""); !stderrors.Is(err, ErrVersionConflict) {
			t.Fatalf("expected conflict on second create, got %v", err)
		}

		updated, err := s.SetIfVersion(ctx, "k", json.RawMessage(`["a","b"]`), created.Version)
		if err != nil {
			t.Fatalf("conditional update: %v", err)
		}
		if _, err := s.SetIfVersion(ctx, "k", json.RawMessage(`["stale"]`), created.Version); !stderrors.Is(err, ErrVersionConflict) {
			t.Fatalf("expected conflict on stale version, got %v", err)
		}

		r, _ := s.Get(ctx, "k")
		if r.Version != updated.Version || !jsonEqual(t, r.Value, []byte(`["a","b"]`)) {
			t.Fatalf("stale write leaked: %+v", r)
		}
	})
}

func TestStoreLikeOperations(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, key := range []string{"ns/users/b/memories", "ns/users/a/memories", "ns/users_x", "other/a"} {
			if _, err := s.Set(ctx, key, json.RawMessage(`1`)); err != nil {
				t.Fatalf("Set: %v", err)
			}
		}

		got, err := s.GetLike(ctx, "ns/users/")
		if err != nil {
			t.Fatalf("GetLike: %v", err)
		}
		if len(got) != 2 || got[0].Key != "ns/users/a/memories" || got[1].Key != "ns/users/b/memories" {
			t.Fatalf("unexpected GetLike result: %+v", got)
		}

		// Wildcards in the prefix are literal.
		if got, _ := s.GetLike(ctx, "ns/users_"); len(got) != 1 {
			t.Fatalf("expected literal underscore match, got %d", len(got))
		}

		if err := s.DeleteLike(ctx, "ns/"); err != nil {
			t.Fatalf("DeleteLike: %v", err)
		}
		rest, _ := s.GetLike(ctx, "")
		if len(rest) != 1 || rest[0].Key != "other/a" {
			t.Fatalf("unexpected records after DeleteLike: %+v", rest)
		}
		if err := s.DeleteLike(ctx, ""); !stderrors.Is(err, ErrEmptyKey) {
			t.Fatalf("expected empty prefix to be refused, got %v", err)
		}
	})
}

func TestStoreDelete(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, _ = s.Set(ctx, "k", json.RawMessage(`1`))
		if err := s.Delete(ctx, "k"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := s.Delete(ctx, "k"); err != nil {
			t.Fatalf("deleting a missing key should succeed: %v", err)
		}
		if r, _ := s.Get(ctx, "k"); r != nil {
			t.Fatalf("expected key to be gone")
		}
	})
}

func TestStoreCreateMany(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		err := CreateMany(ctx, s, []Item[[]string]{
			{Key: "bulk/1", Value: []string{"a"}},
			{Key: "bulk/2", Value: []string{}},
		})
		if err != nil {
			t.Fatalf("CreateMany: %v", err)
		}
		got, err := GetKeysLike[[]string](ctx, s, "bulk/")
		if err != nil {
			t.Fatalf("GetKeysLike: %v", err)
		}
		if len(got) != 2 || len(got[0].Value) != 1 || got[1].Value == nil {
			t.Fatalf("unexpected bulk result: %+v", got)
		}

		if err := s.CreateMany(ctx, []Entry{{Key: "bulk/3"}, {Key: ""}}); !stderrors.Is(err, ErrEmptyKey) {
			t.Fatalf("expected empty key error, got %v", err)
		}
		if r, _ := s.Get(ctx, "bulk/3"); r != nil {
			t.Fatalf("partial bulk write leaked")
		}
	})
}

func TestStoreEmptyKey(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, err := s.Get(ctx, ""); !stderrors.Is(err, ErrEmptyKey) {
			t.Errorf("Get: expected ErrEmptyKey, got %v", err)
		}
		if _, err := s.Set(ctx, "", json.RawMessage(`1`)); !stderrors.Is(err, ErrEmptyKey) {
			t.Errorf("Set: expected ErrEmptyKey, got %v", err)
		}
	})
}

func TestStoreConcurrentConditionalWrites(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base, err := s.Set(ctx, "race", json.RawMessage(`[]`))
		if err != nil {
			t.Fatalf("Set: %v", err)
		}

		const writers = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.SetIfVersion(ctx, "race", json.RawMessage(`["w"]`), base.Version); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if wins != 1 {
			t.Fatalf("expected exactly one winner, got %d", wins)
		}
	})
}

func TestTypedHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	missing, err := GetKey[[]string](ctx, s, "none")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing key, got %v %v", missing, err)
	}

	type persona struct {
		CollectionName string `json:"collectionName"`
	}
	saved, err := SetKey(ctx, s, "p", map[string]persona{"p1": {CollectionName: "c1"}})
	if err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if saved.Value["p1"].CollectionName != "c1" {
		t.Fatalf("unexpected decoded value: %+v", saved.Value)
	}

	if _, err := SetKeyIfVersion(ctx, s, "p", map[string]persona{}, "stale"); !stderrors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if _, err := GetKey[[]string](ctx, s, "p"); !stderrors.Is(err, ErrDecode) {
		t.Fatalf("expected decode error for mismatched type, got %v", err)
	}

	if _, err := SetKey(ctx, s, "bad", func() {}); err == nil {
		t.Fatalf("expected non-serializable value to fail")
	}
}

func TestVersionUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want Version
	}{
		{`"abc"`, "abc"},
		{`42`, "42"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var r struct {
			Version Version `json:"version"`
		}
		if err := json.Unmarshal([]byte(`{"version":`+tt.in+`}`), &r); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.in, err)
		}
		if r.Version != tt.want {
			t.Errorf("unmarshal %s: got %q, want %q", tt.in, r.Version, tt.want)
		}
	}
}

func jsonEqual(t *testing.T, a, b []byte) bool {
	t.Helper()
	var va, vb any
	if err := json.Unmarshal(a, &va); err != nil {
		t.Fatalf("invalid json %s: %v", a, err)
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		t.Fatalf("invalid json %s: %v", b, err)
	}
	ja, _ := json.Marshal(va)
	jb, _ := json.Marshal(vb)
	return string(ja) == string(jb)
}
