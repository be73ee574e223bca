package core

import (
	"encoding/json"
	"math"
	"testing"
)

func TestParseDecimalToCents(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half-up rounding
		{" 2.50 ", 250, true},
		{"0", 0, true},
		{"-1", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDecimalToCents(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want int64
		ok   bool
	}{
		{"float", 450.5, 45050, true},
		{"int", 200, 20000, true},
		{"int64", int64(3), 300, true},
		{"json number", json.Number("12.34"), 1234, true},
		{"string", "99", 9900, true},
		{"zero", 0.0, 0, true},
		{"negative", -1.0, 0, false},
		{"nan", math.NaN(), 0, false},
		{"inf", math.Inf(1), 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
		{"garbage string", "ten", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAmount(tc.in)
			if tc.ok && (err != nil || got.Cents != tc.want) {
				t.Fatalf("ParseAmount(%v) = %d, %v; want %d", tc.in, got.Cents, err, tc.want)
			}
			if !tc.ok && err == nil {
				t.Fatalf("ParseAmount(%v) expected error", tc.in)
			}
		})
	}
}

func TestMoneyJSON(t *testing.T) {
	var m Money
	if err := json.Unmarshal([]byte(`1234.5`), &m); err != nil || m.Cents != 123450 {
		t.Fatalf("unmarshal number: %d %v", m.Cents, err)
	}
	if err := json.Unmarshal([]byte(`"7,25"`), &m); err != nil || m.Cents != 725 {
		t.Fatalf("unmarshal string: %d %v", m.Cents, err)
	}
	if err := json.Unmarshal([]byte(`-3`), &m); err == nil {
		t.Fatalf("expected error for negative amount")
	}

	out, err := json.Marshal(struct {
		A Money `json:"a"`
		B Money `json:"b"`
	}{Money{Cents: 5}, Money{Cents: -150}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"a":0.05,"b":-1.50}` {
		t.Fatalf("unexpected json: %s", out)
	}
}
