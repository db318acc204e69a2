package store

import "testing"

func TestValidateLabelTokenRejectsEmpty(t *testing.T) {
	if err := validateLabelToken(""); err == nil {
		t.Fatal("expected an empty label to be rejected")
	}
}

func TestValidateLabelTokenRejectsTooLong(t *testing.T) {
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	if err := validateLabelToken(string(long)); err == nil {
		t.Fatal("expected a 65-character label to be rejected")
	}
}

func TestValidateLabelTokenAcceptsMaxLength(t *testing.T) {
	exact := make([]byte, 64)
	for i := range exact {
		exact[i] = 'a'
	}
	if err := validateLabelToken(string(exact)); err != nil {
		t.Fatalf("expected a 64-character label to be accepted, got %v", err)
	}
}

func TestValidateLabelTokenRejectsWhitespace(t *testing.T) {
	for _, v := range []string{"a b", "a\tb", "a\nb", " leading", "trailing "} {
		if err := validateLabelToken(v); err == nil {
			t.Fatalf("expected %q to be rejected for whitespace", v)
		}
	}
}

func TestValidateLabelTokenAcceptsOrdinaryValue(t *testing.T) {
	if err := validateLabelToken("prod-env_1.0"); err != nil {
		t.Fatalf("expected a well-formed label to be accepted, got %v", err)
	}
}

func TestValidateLabelsChecksKeysAndValues(t *testing.T) {
	if err := validateLabels(Labels{"env": {"prod", "staging"}}); err != nil {
		t.Fatalf("expected valid labels to pass, got %v", err)
	}
	if err := validateLabels(Labels{"bad key": {"prod"}}); err == nil {
		t.Fatal("expected a key with whitespace to be rejected")
	}
	if err := validateLabels(Labels{"env": {"bad value"}}); err == nil {
		t.Fatal("expected a value with whitespace to be rejected")
	}
	if err := validateLabels(Labels{"env": {""}}); err == nil {
		t.Fatal("expected an empty value to be rejected")
	}
}
