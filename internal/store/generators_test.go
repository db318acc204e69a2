package store

import (
	"context"
	"testing"
)

func TestCreateAndGetGenerator(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	g, err := st.CreateGenerator(ctx, nil, "gen-roundtrip", "hash1")
	if err != nil {
		t.Fatal(err)
	}
	if !g.IsActive {
		t.Fatal("expected new generator to be active")
	}

	got, err := st.GetGenerator(ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "gen-roundtrip" || got.PAKHash != "hash1" {
		t.Fatalf("GetGenerator() = %+v, want name=gen-roundtrip hash=hash1", got)
	}
}

func TestListLiveGeneratorsIncludesActiveHashedGenerator(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	live, err := st.CreateGenerator(ctx, nil, "gen-live", "hash2")
	if err != nil {
		t.Fatal(err)
	}

	all, err := st.ListLiveGenerators(ctx)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, g := range all {
		if g.ID == live.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected active, hashed generator to appear in ListLiveGenerators")
	}
}

func TestSetGeneratorPAKHashRotatesHash(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	g, err := st.CreateGenerator(ctx, nil, "gen-rotate", "old-hash")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SetGeneratorPAKHash(ctx, g.ID, "new-hash"); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetGenerator(ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PAKHash != "new-hash" {
		t.Fatalf("expected rotated hash, got %s", got.PAKHash)
	}

	if err := st.SetGeneratorPAKHash(ctx, "00000000-0000-0000-0000-000000000000", "x"); !IsNotFound(err) {
		t.Fatalf("expected NotFound for unknown generator, got %v", err)
	}
}

func TestTouchGeneratorActivity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	g, err := st.CreateGenerator(ctx, nil, "gen-touch", "hash")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.TouchGeneratorActivity(ctx, g.ID); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetGenerator(ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastActiveAt == nil {
		t.Fatal("expected last_active_at to be set after touch")
	}
}
