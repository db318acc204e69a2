package authpak

import "testing"

func TestGenerateProducesVerifiablePAK(t *testing.T) {
	cfg := DefaultConfig()
	g, err := Generate(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if g.Plaintext == "" || g.Hash == "" {
		t.Fatal("expected non-empty plaintext and hash")
	}
	if !Verify(g.Plaintext, g.Hash) {
		t.Fatal("expected generated PAK to verify against its own hash")
	}
}

func TestGenerateProducesDistinctKeys(t *testing.T) {
	cfg := DefaultConfig()
	g1, err := Generate(cfg)
	if err != nil {
		t.Fatal(err)
	}
	g2, err := Generate(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if g1.Plaintext == g2.Plaintext {
		t.Fatal("expected distinct plaintexts across generations")
	}
	if g1.Hash == g2.Hash {
		t.Fatal("expected distinct hashes across generations")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	cfg := DefaultConfig()
	g, err := Generate(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if Verify("bkr_wrong_wrongwrongwrong", g.Hash) {
		t.Fatal("expected mismatched PAK to fail verification")
	}
}

func TestVerifyRejectsEmptyHash(t *testing.T) {
	if Verify("anything", "") {
		t.Fatal("expected verification against empty hash to fail")
	}
}

func TestShortIDExtraction(t *testing.T) {
	cfg := DefaultConfig()
	g, err := Generate(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got := ShortID(g.Plaintext, cfg); got != g.ShortID {
		t.Fatalf("ShortID() = %q, want %q", got, g.ShortID)
	}
	if got := ShortID("not_a_valid_pak_at_all_garbage", cfg); got != "" {
		t.Fatalf("ShortID() on malformed plaintext should be empty, got %q", got)
	}
}
