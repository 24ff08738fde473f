package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	Name  string         `json:"name"`
	Count int            `json:"count"`
	Tags  map[string]int `json:"tags,omitempty"`
}

func TestJSONRoundTrip(t *testing.T) {
	c := JSON()
	in := sample{Name: "tile", Count: 3, Tags: map[string]int{"a": 1, "b": 2}}
	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out sample
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Name != in.Name || out.Count != in.Count || len(out.Tags) != 2 {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestCBORDeterministic(t *testing.T) {
	c, err := CBOR()
	if err != nil {
		t.Fatalf("CBOR(): %v", err)
	}
	in := sample{Name: "x", Count: 1, Tags: map[string]int{"z": 1, "a": 2, "m": 3}}
	b1, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b2, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("canonical CBOR must be byte-stable")
	}
	var out sample
	if err := c.Unmarshal(b1, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Count != 1 || out.Tags["m"] != 3 {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if r.Get("application/json") == nil {
		t.Fatalf("expected JSON preloaded")
	}
	if r.Get("application/cbor") != nil {
		t.Fatalf("expected CBOR absent before Register")
	}
	c, err := CBOR()
	if err != nil {
		t.Fatalf("CBOR(): %v", err)
	}
	r.Register(c)
	if r.Get("application/cbor") == nil {
		t.Fatalf("expected CBOR after Register")
	}
}
