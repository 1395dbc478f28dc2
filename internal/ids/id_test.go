package ids

import (
	"bytes"
	"encoding/json"
	"sort"
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	data := []byte("the quick brown fox")
	a := Hash(data)
	b := Hash(data)
	if a != b {
		t.Fatalf("Hash is not deterministic: %v != %v", a, b)
	}
	if Hash([]byte("different")) == a {
		t.Fatalf("distinct content hashed to the same ID")
	}
}

func TestParseIDRoundtrip(t *testing.T) {
	id := Hash([]byte("round trip me"))
	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != id {
		t.Fatalf("ParseID(String()) = %v, want %v", parsed, id)
	}
}

func TestParseIDInvalid(t *testing.T) {
	if _, err := ParseID("not hex"); err == nil {
		t.Fatal("expected error for malformed id")
	}
	if _, err := ParseID("ab"); err == nil {
		t.Fatal("expected error for short id")
	}
}

func TestIsNull(t *testing.T) {
	var id ID
	if !id.IsNull() {
		t.Fatal("zero ID should be null")
	}
	if Hash([]byte("x")).IsNull() {
		t.Fatal("content hash should not be null")
	}
}

func TestJSONRoundtrip(t *testing.T) {
	id := Hash([]byte("json me"))
	b, err := json.Marshal(id)
	if err != nil {
		t.Fatal(err)
	}

	var out ID
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if out != id {
		t.Fatalf("json round trip mismatch: %v != %v", out, id)
	}
}

func TestJSONNull(t *testing.T) {
	var id ID
	var out ID
	out[0] = 1 // start non-zero to prove UnmarshalJSON resets it

	b, err := json.Marshal(id)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if !out.IsNull() {
		t.Fatalf("expected null id after unmarshaling %q", b)
	}
}

func TestIDsSort(t *testing.T) {
	a, b, c := Hash([]byte("a")), Hash([]byte("b")), Hash([]byte("c"))
	list := IDs{c, a, b}
	sort.Sort(list)
	if !sort.IsSorted(list) {
		t.Fatal("IDs did not sort")
	}
	if !list.Contains(a) || !list.Contains(b) || !list.Contains(c) {
		t.Fatal("Contains missing a member after sort")
	}
}

func TestBlobMatchesReader(t *testing.T) {
	content := []byte("pack blob content")
	id := Hash(content)

	ok, err := BlobMatchesReader(id, len(content), bytes.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected matching content to verify")
	}

	ok, err = BlobMatchesReader(id, len(content), bytes.NewReader([]byte("tampered blob cnt")))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected tampered content to fail verification")
	}
}
