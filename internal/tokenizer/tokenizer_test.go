package tokenizer

import (
	"os"
	"path/filepath"
	"testing"
)

func testVocab(t *testing.T) *Tokenizer {
	t.Helper()
	tok, err := New([]string{"<eos>", "hel", "lo", "h", "e", "l", "o", " ", "world", "hello"})
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestEncodePrefersLongestMatch(t *testing.T) {
	tok := testVocab(t)
	ids := tok.Encode("hello world")
	// "hello" wins over "hel"+"lo" and the single letters.
	want := []int{9, 7, 8}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got %v, want %v", ids, want)
		}
	}
}

func TestEncodeSkipsUncoveredBytes(t *testing.T) {
	tok := testVocab(t)
	ids := tok.Encode("he?lo")
	want := []int{3, 4, 2} // h, e, lo with '?' skipped
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	tok := testVocab(t)
	text := "hello hel world"
	if got := tok.Decode(tok.Encode(text)); got != text {
		t.Fatalf("round trip produced %q", got)
	}
}

func TestDecodeIgnoresUnknownIDs(t *testing.T) {
	tok := testVocab(t)
	if got := tok.Decode([]int{9, -1, 100, 7}); got != "hello " {
		t.Fatalf("got %q", got)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.json")
	if err := os.WriteFile(path, []byte(`{"tokens": ["a", "b", "ab"]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	tok, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if tok.VocabSize() != 3 {
		t.Fatalf("vocab size %d", tok.VocabSize())
	}
	ids := tok.Encode("ab")
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("got %v, want [2]", ids)
	}
}

func TestRejectsEmptyAndDuplicateVocab(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for empty vocabulary")
	}
	if _, err := New([]string{"a", "a"}); err == nil {
		t.Fatal("expected error for duplicate token")
	}
}
