package hl7v2

import "testing"

func TestResolvePath(t *testing.T) {
	doc := []byte(`{
		"patient": {
			"id": "123",
			"empty": "",
			"none": null,
			"age": 42,
			"weight": 71.50,
			"tiny": 0.0000001,
			"active": true,
			"names": [{"family": "Smith"}, {"family": "Jones"}],
			"codes": ["A", "B"],
			"meta": {"source": "x"},
			"quoted": "a \"b\""
		}
	}`)

	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"patient.id", "123", true},
		{"patient.age", "42", true},
		{"patient.weight", "71.5", true},
		{"patient.tiny", "1e-7", true},
		{"patient.active", "true", true},
		{"patient.names.1.family", "Jones", true},
		{"patient.codes.0", "A", true},
		{"patient.codes", `["A", "B"]`, true},
		{"patient.meta", `{"source": "x"}`, true},
		{"patient.quoted", `a "b"`, true},
		{"patient.empty", "", false},
		{"patient.none", "", false},
		{"patient.missing", "", false},
		{"patient.names.5.family", "", false},
		{"patient.names.first", "", false},
		{"patient.id.deeper", "", false},
		{"patient..id", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := ResolvePath(doc, tt.path)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v (value %q)", tt.ok, ok, got)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestResolvePath_TopLevelArray(t *testing.T) {
	got, ok := ResolvePath([]byte(`[{"id":"a"},{"id":"b"}]`), "1.id")
	if !ok || got != "b" {
		t.Errorf("expected 'b', got %q (ok=%v)", got, ok)
	}
}

func TestFormatNumber(t *testing.T) {
	tests := map[float64]string{
		0:            "0",
		7:            "7",
		-3.25:        "-3.25",
		1e21:         "1e+21",
		2.5e-8:       "2.5e-8",
		123456789012: "123456789012",
	}
	for in, want := range tests {
		if got := formatNumber(in); got != want {
			t.Errorf("formatNumber(%v): expected %q, got %q", in, want, got)
		}
	}
}
