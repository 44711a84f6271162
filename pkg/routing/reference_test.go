package routing

import "testing"

func TestParseReference(t *testing.T) {
	tests := []struct {
		input   string
		group   string
		echelon string
		wantErr bool
	}{
		{input: "fast_group", group: "fast_group"},
		{input: "fast_group.echelon1", group: "fast_group", echelon: "echelon1"},
		{input: "  padded.ech  ", group: "padded", echelon: "ech"},
		{input: "", wantErr: true},
		{input: "   ", wantErr: true},
		{input: ".echelon1", wantErr: true},
		{input: "group.", wantErr: true},
		{input: "a.b.c", wantErr: true},
	}

	for _, tt := range tests {
		ref, err := ParseReference(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseReference(%q): expected error, got %v", tt.input, ref)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseReference(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if ref.Group != tt.group || ref.Echelon != tt.echelon {
			t.Errorf("ParseReference(%q) = %+v, want group=%q echelon=%q", tt.input, ref, tt.group, tt.echelon)
		}
	}
}

func TestReferenceString(t *testing.T) {
	full := GroupReference{Group: "g", Echelon: "e"}
	if got := full.String(); got != "g.e" {
		t.Errorf("String() = %q, want %q", got, "g.e")
	}
	if !full.HasEchelon() {
		t.Error("expected HasEchelon() = true")
	}

	groupOnly := GroupReference{Group: "g"}
	if got := groupOnly.String(); got != "g" {
		t.Errorf("String() = %q, want %q", got, "g")
	}
	if groupOnly.HasEchelon() {
		t.Error("expected HasEchelon() = false")
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, s := range []string{"group", "group.echelon"} {
		ref, err := ParseReference(s)
		if err != nil {
			t.Fatalf("ParseReference(%q): %v", s, err)
		}
		if ref.String() != s {
			t.Errorf("round trip %q -> %q", s, ref.String())
		}
	}
}

func TestMustParseReferencePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for invalid reference")
		}
	}()
	MustParseReference("a.b.c")
}
