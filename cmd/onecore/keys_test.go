package main

import (
	"testing"

	"onecore/core/microdata"
)

func TestNewKeysObjectSetsFields(t *testing.T) {
	obj := newKeysObject("alice", []byte{0xde, 0xad}, []byte{0xbe, 0xef})

	if obj.Type != keysRecipeName {
		t.Fatalf("expected type %q, got %q", keysRecipeName, obj.Type)
	}
	if got := obj.Fields["owner"].Str; got != "alice" {
		t.Fatalf("expected owner=alice, got %q", got)
	}
	if got := obj.Fields["encryptionKey"].Str; got != "dead" {
		t.Fatalf("expected encryptionKey=dead, got %q", got)
	}
	if got := obj.Fields["signKey"].Str; got != "beef" {
		t.Fatalf("expected signKey=beef, got %q", got)
	}
}

func TestNewKeysObjectRoundTripsThroughMicrodata(t *testing.T) {
	obj := newKeysObject("bob", []byte{0x01}, []byte{0x02})
	r := keysRecipe()

	hash, text, err := microdata.ObjectHash(obj, r)
	if err != nil {
		t.Fatalf("ObjectHash: %v", err)
	}
	if hash.IsZero() {
		t.Fatalf("expected non-zero hash")
	}
	if text == "" {
		t.Fatalf("expected non-empty serialized text")
	}

	idHash, _, err := microdata.IdObjectHash(obj, r)
	if err != nil {
		t.Fatalf("IdObjectHash: %v", err)
	}
	if idHash.IsZero() {
		t.Fatalf("expected non-zero id-hash")
	}
}
