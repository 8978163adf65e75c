package callmgr

import (
	"strings"
	"testing"
)

func TestAddCallMintsPrefixedID(t *testing.T) {
	m := NewCallIDMapper("TC")
	call := NewCall("alice", "bob")
	id := m.AddCall(call)
	if id != "TC@1" {
		t.Fatalf("AddCall id = %q; want TC@1", id)
	}
	if got := m.GetCall("TC@1"); got != call {
		t.Errorf("GetCall(TC@1) = %v; want the added call", got)
	}
	if gotID, ok := m.GetCallID(call); !ok || gotID != "TC@1" {
		t.Errorf("GetCallID = %q, %v; want TC@1, true", gotID, ok)
	}
}

func TestAddCallNil(t *testing.T) {
	m := NewCallIDMapper("TC")
	if id := m.AddCall(nil); id != "" {
		t.Errorf("AddCall(nil) = %q; want empty", id)
	}
	if m.AddCallWithID(nil, "TC@1") {
		t.Error("AddCallWithID(nil, ...) accepted")
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d; want 0", m.Len())
	}
}

func TestAddCallWithIDDuplicate(t *testing.T) {
	m := NewCallIDMapper("TC")
	callA := NewCall("alice", "bob")
	callB := NewCall("carol", "dave")
	if !m.AddCallWithID(callA, "TC@1") {
		t.Fatal("first AddCallWithID refused")
	}
	if m.AddCallWithID(callB, "TC@1") {
		t.Error("second AddCallWithID under the same id accepted")
	}
	// binding must be unchanged: the duplicate is simply not registered
	if got := m.GetCall("TC@1"); got != callA {
		t.Errorf("GetCall(TC@1) = %v; want callA", got)
	}
	if _, ok := m.GetCallID(callB); ok {
		t.Error("callB registered despite refused bind")
	}
}

func TestAddCallAlreadyBound(t *testing.T) {
	m := NewCallIDMapper("TC")
	call := NewCall("alice", "bob")
	if id := m.AddCall(call); id == "" {
		t.Fatal("first AddCall refused")
	}
	if id := m.AddCall(call); id != "" {
		t.Errorf("second AddCall of the same call = %q; want empty", id)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d; want 1", m.Len())
	}
}

func TestReplaceCall(t *testing.T) {
	m := NewCallIDMapper("TC")
	callA := NewCall("alice", "bob")
	callB := NewCall("carol", "dave")
	if !m.AddCallWithID(callA, "TC@1") {
		t.Fatal("AddCallWithID refused")
	}
	m.ReplaceCall(callB, callA)
	if got := m.GetCall("TC@1"); got != callB {
		t.Errorf("GetCall(TC@1) = %v after replace; want callB", got)
	}
	if _, ok := m.GetCallID(callA); ok {
		t.Error("replaced call still bound")
	}
	if gotID, ok := m.GetCallID(callB); !ok || gotID != "TC@1" {
		t.Errorf("GetCallID(callB) = %q, %v; want TC@1, true", gotID, ok)
	}
}

func TestReplaceCallDropsNewCallsOldBinding(t *testing.T) {
	m := NewCallIDMapper("TC")
	callA := NewCall("alice", "bob")
	callB := NewCall("carol", "dave")
	idA := m.AddCall(callA)
	idB := m.AddCall(callB)
	m.ReplaceCall(callB, callA)
	if got := m.GetCall(idA); got != callB {
		t.Errorf("GetCall(%s) = %v; want callB", idA, got)
	}
	if got := m.GetCall(idB); got != nil {
		t.Errorf("GetCall(%s) = %v; want nil (stale binding dropped)", idB, got)
	}
}

func TestReplaceCallNoOp(t *testing.T) {
	m := NewCallIDMapper("TC")
	callA := NewCall("alice", "bob")
	callB := NewCall("carol", "dave")
	m.AddCallWithID(callA, "TC@1")
	// unbound callToReplace: nothing changes
	m.ReplaceCall(callA, callB)
	if got := m.GetCall("TC@1"); got != callA {
		t.Errorf("GetCall(TC@1) = %v; want callA", got)
	}
	// nil newCall: nothing changes
	m.ReplaceCall(nil, callA)
	if got := m.GetCall("TC@1"); got != callA {
		t.Errorf("GetCall(TC@1) = %v after nil replace; want callA", got)
	}
}

func TestGetCallTokens(t *testing.T) {
	m := NewCallIDMapper("TC")
	call := NewCall("alice", "bob")
	m.AddCallWithID(call, "TC@1")
	tests := []struct {
		name string
		tok  any
		want *Call
	}{
		{"bound id", "TC@1", call},
		{"unbound id with prefix", "TC@2", nil},
		{"non-string token", 42, nil},
		{"nil token", nil, nil},
		{"empty string", "", nil},
		{"foreign but non-empty string", "XX@1", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.GetCall(tt.tok); got != tt.want {
				t.Errorf("GetCall(%v) = %v; want %v", tt.tok, got, tt.want)
			}
		})
	}
}

func TestGetCallConferenceID(t *testing.T) {
	m := NewCallIDMapper("TC")
	conf := NewConference("alice", "bob")
	id := NewConferenceID()
	if !m.AddCallWithID(conf, id) {
		t.Fatal("AddCallWithID refused for conference id")
	}
	// conference ids carry no mapper prefix but must still resolve
	if got := m.GetCall(id); got != conf {
		t.Errorf("GetCall(%s) = %v; want the conference", id, got)
	}
}

func TestRemoveCall(t *testing.T) {
	m := NewCallIDMapper("TC")
	call := NewCall("alice", "bob")
	id := m.AddCall(call)
	if !m.RemoveCall(call) {
		t.Fatal("RemoveCall = false; want true")
	}
	if got := m.GetCall(id); got != nil {
		t.Errorf("GetCall(%s) = %v after RemoveCall; want nil", id, got)
	}
	if m.RemoveCall(call) {
		t.Error("RemoveCall = true on unbound call")
	}
	if m.RemoveCall(nil) {
		t.Error("RemoveCall(nil) = true")
	}
}

func TestRemoveCallID(t *testing.T) {
	m := NewCallIDMapper("TC")
	call := NewCall("alice", "bob")
	id := m.AddCall(call)
	if !m.RemoveCallID(id) {
		t.Fatal("RemoveCallID = false; want true")
	}
	if _, ok := m.GetCallID(call); ok {
		t.Error("call still bound after RemoveCallID")
	}
	if m.RemoveCallID(id) {
		t.Error("RemoveCallID = true on unbound id")
	}
}

func TestClear(t *testing.T) {
	m := NewCallIDMapper("TC")
	call := NewCall("alice", "bob")
	id := m.AddCall(call)
	m.Clear()
	if got := m.GetCall(id); got != nil {
		t.Errorf("GetCall(%s) = %v after Clear; want nil", id, got)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d after Clear; want 0", m.Len())
	}
	// ids are not reused after a clear
	if next := m.AddCall(NewCall("carol", "dave")); next != "TC@2" {
		t.Errorf("AddCall after Clear = %q; want TC@2", next)
	}
}

func TestNewIDUnique(t *testing.T) {
	m := NewCallIDMapper("TC")
	const n = 100
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id := m.NewID()
		if !strings.HasPrefix(id, "TC@") {
			t.Fatalf("NewID() = %q; want TC@ prefix", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("NewID() repeated %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestPerInstanceCounters(t *testing.T) {
	// counters are scoped per mapper; two instances mint independently
	m1 := NewCallIDMapper("TC")
	m2 := NewCallIDMapper("TU")
	if id := m1.NewID(); id != "TC@1" {
		t.Errorf("m1.NewID() = %q; want TC@1", id)
	}
	if id := m2.NewID(); id != "TU@1" {
		t.Errorf("m2.NewID() = %q; want TU@1", id)
	}
}

func TestIsValidCallID(t *testing.T) {
	m := NewCallIDMapper("TC")
	tests := []struct {
		id   string
		want bool
	}{
		{"TC@1", true},
		{"TC@12345", true},
		{"TC@", true}, // shape check only; resolution still fails
		{"", false},
		{"TC", false},
		{"tc@1", false},
		{"XX@1", false},
		{"conf-550e8400", false},
	}
	for _, tt := range tests {
		if got := m.IsValidCallID(tt.id); got != tt.want {
			t.Errorf("IsValidCallID(%q) = %v; want %v", tt.id, got, tt.want)
		}
	}
}

func TestIsValidConferenceID(t *testing.T) {
	m := NewCallIDMapper("TC")
	tests := []struct {
		id   string
		want bool
	}{
		{NewConferenceID(), true},
		{"anything", true}, // deliberately permissive
		{"TC@1", true},
		{"", false},
	}
	for _, tt := range tests {
		if got := m.IsValidConferenceID(tt.id); got != tt.want {
			t.Errorf("IsValidConferenceID(%q) = %v; want %v", tt.id, got, tt.want)
		}
	}
}
