// Package fixtures holds recorded upstream payloads for adapter tests.
package fixtures

import (
	"embed"
	"encoding/json"
	"testing"
)

//go:embed testdata/*
var files embed.FS

// MustRead returns the raw bytes of a fixture, failing t when it is missing.
func MustRead(t testing.TB, name string) []byte {
	t.Helper()
	data, err := files.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return data
}

// MustLoad decodes a JSON fixture into dest.
func MustLoad(t testing.TB, name string, dest any) {
	t.Helper()
	if err := json.Unmarshal(MustRead(t, name), dest); err != nil {
		t.Fatalf("decode fixture %s: %v", name, err)
	}
}
