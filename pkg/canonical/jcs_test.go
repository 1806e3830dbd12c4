package canonical

import (
	"testing"
	"time"
)

func TestMarshal_Sorting(t *testing.T) {
	input := map[string]interface{}{
		"c": 3,
		"a": 1,
		"b": 2,
	}

	expected := `{"a":1,"b":2,"c":3}`

	b, err := Marshal(input)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestMarshal_RecursiveSorting(t *testing.T) {
	input := map[string]interface{}{
		"z": map[string]interface{}{
			"y": "foo",
			"x": "bar",
		},
		"a": 1,
	}

	expected := `{"a":1,"z":{"x":"bar","y":"foo"}}`

	b, err := Marshal(input)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestMarshal_NoHTMLEscaping(t *testing.T) {
	input := map[string]string{
		"html": "<script>alert('xss')</script> &",
	}

	// Standard encoding/json would emit < escapes; RFC 8785 forbids them.
	expected := `{"html":"<script>alert('xss')</script> &"}`

	b, err := Marshal(input)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestHash_Stability(t *testing.T) {
	// Semantically identical values built differently must hash identically.
	v1 := map[string]interface{}{"a": 1, "b": 2}

	type S struct {
		B int `json:"b"`
		A int `json:"a"`
	}
	v2 := S{A: 1, B: 2}

	h1, err := Hash(v1)
	if err != nil {
		t.Fatal(err)
	}

	h2, err := Hash(v2)
	if err != nil {
		t.Fatal(err)
	}

	if h1 != h2 {
		t.Errorf("Hash mismatch for semantically identical inputs: %s != %s", h1, h2)
	}
}

func TestMarshal_ArrayOrderPreserved(t *testing.T) {
	input := map[string]interface{}{
		"seq": []interface{}{"c", "a", "b"},
	}
	expected := `{"seq":["c","a","b"]}`

	b, err := Marshal(input)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestNormalizeTime(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	in := time.Date(2026, 3, 14, 9, 26, 53, 589793238, loc)

	got := NormalizeTime(in)
	want := "2026-03-14T14:26:53Z"

	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestString_IsReachable(t *testing.T) {
	s, err := String(map[string]int{"b": 2, "a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if s == "" {
		t.Fatal("expected non-empty string")
	}
}
