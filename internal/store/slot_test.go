package store

import "testing"

func TestCRC16KnownVector(t *testing.T) {
	// "123456789" is the standard CRC16-CCITT (XMODEM) test vector.
	got := CRC16([]byte("123456789"))
	const want = 0x31C3
	if got != want {
		t.Fatalf("CRC16(123456789) = %#04x, want %#04x", got, want)
	}
}

func TestSlotIDBounded(t *testing.T) {
	for _, k := range []string{"", "a", "hello", "{tag}rest"} {
		s := SlotID([]byte(k))
		if s >= NumSlots {
			t.Fatalf("SlotID(%q) = %d, want < %d", k, s, NumSlots)
		}
	}
}

func TestSlotIDHashTagCoLocation(t *testing.T) {
	a := SlotID([]byte("{user1000}.following"))
	b := SlotID([]byte("{user1000}.followers"))
	if a != b {
		t.Fatalf("expected keys sharing a hash tag to land in the same slot: %d != %d", a, b)
	}
}

func TestHashTagExtraction(t *testing.T) {
	cases := []struct{ key, want string }{
		{"{user1000}.following", "user1000"},
		{"nobrace", "nobrace"},
		{"{}empty", "{}empty"},   // empty tag falls back to whole key
		{"a{b}c{d}e", "b"},       // first complete tag wins
		{"{unterminated", "{unterminated"},
	}
	for _, c := range cases {
		got := string(hashTag([]byte(c.key)))
		if got != c.want {
			t.Errorf("hashTag(%q) = %q, want %q", c.key, got, c.want)
		}
	}
}

func TestExtractTouchedKeysDedupesPutOverDelete(t *testing.T) {
	nsKey := MakeNsKey([]byte("ns"), []byte("k1"))
	b := NewBatch()
	b.Delete(CFMetadata, nsKey)
	b.Put(CFMetadata, nsKey, []byte("v"))

	puts, deletes := extractTouchedKeys(b)
	if len(puts) != 1 || string(puts[0]) != "k1" {
		t.Fatalf("expected k1 in puts, got %v", puts)
	}
	if len(deletes) != 0 {
		t.Fatalf("expected no deletes once k1 was re-put, got %v", deletes)
	}
}

func TestExtractTouchedKeysIgnoresOtherColumnFamilies(t *testing.T) {
	nsKey := MakeNsKey([]byte("ns"), []byte("k1"))
	b := NewBatch()
	b.Put(CFDefault, nsKey, []byte("v"))

	puts, deletes := extractTouchedKeys(b)
	if len(puts) != 0 || len(deletes) != 0 {
		t.Fatalf("expected CFDefault writes to be ignored, got puts=%v deletes=%v", puts, deletes)
	}
}
