package data

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/snapbox/snapbox/internal/ids"
)

func TestDeletePolicyNotSet(t *testing.T) {
	b, err := json.Marshal(NotSetDeletePolicy)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "null" {
		t.Fatalf("NotSetDeletePolicy encoded as %s, want null", b)
	}

	var out DeletePolicy
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if out.IsSet() {
		t.Fatal("expected unmarshaled null to be unset")
	}
}

func TestDeletePolicyNever(t *testing.T) {
	b, err := json.Marshal(NeverDelete())
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"never"` {
		t.Fatalf("NeverDelete encoded as %s, want \"never\"", b)
	}

	var out DeletePolicy
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if !out.IsNever() {
		t.Fatal("expected unmarshaled policy to be never-delete")
	}
}

func TestDeletePolicyAfter(t *testing.T) {
	when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	policy := DeleteAfter(when)

	b, err := json.Marshal(policy)
	if err != nil {
		t.Fatal(err)
	}

	var out DeletePolicy
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	got, ok := out.At()
	if !ok {
		t.Fatal("expected delete-after time to be set")
	}
	if !got.Equal(when) {
		t.Fatalf("At() = %v, want %v", got, when)
	}
}

func TestSnapshotIDAssignment(t *testing.T) {
	s := &Snapshot{Time: time.Now()}
	if !s.ID().IsNull() {
		t.Fatal("expected zero ID before SetID")
	}

	id := ids.Hash([]byte("snapshot content"))
	s.SetID(id)
	if s.ID() != id {
		t.Fatalf("ID() = %v, want %v", s.ID(), id)
	}
}

func TestSnapshotEqualByTimeOnly(t *testing.T) {
	now := time.Now()
	a := &Snapshot{Time: now, Hostname: "a"}
	b := &Snapshot{Time: now, Hostname: "b"}
	if !a.Equal(b) {
		t.Fatal("snapshots with equal times and different hostnames should be Equal")
	}

	c := &Snapshot{Time: now.Add(time.Second), Hostname: "a"}
	if a.Equal(c) {
		t.Fatal("snapshots with different times should not be Equal")
	}
}
