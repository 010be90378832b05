package parser

import "testing"

func fptr(v float64) *float64 { return &v }

func TestParseReferenceRange(t *testing.T) {
	ref := ParseReference("70 a 100")
	if ref == nil {
		t.Fatal("ParseReference returned nil")
	}
	if ref.Type != RefRange {
		t.Errorf("type = %q, want %q", ref.Type, RefRange)
	}
	if ref.Min == nil || *ref.Min != 70 {
		t.Errorf("min = %v, want 70", ref.Min)
	}
	if ref.Max == nil || *ref.Max != 100 {
		t.Errorf("max = %v, want 100", ref.Max)
	}
}

func TestParseReferenceOperators(t *testing.T) {
	tests := []struct {
		in       string
		wantType string
		wantMin  *float64
		wantMax  *float64
	}{
		{"< 200", RefMaxOnly, nil, fptr(200)},
		{"> 40", RefMinOnly, fptr(40), nil},
		{"0.7 - 1.3", RefRange, fptr(0.7), fptr(1.3)},
		{"Referencia: 70 a 100", RefRange, fptr(70), fptr(100)},
		{"(4.5 a 11.0)", RefRange, fptr(4.5), fptr(11.0)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ref := ParseReference(tt.in)
			if ref == nil {
				t.Fatalf("ParseReference(%q) = nil", tt.in)
			}
			if ref.Type != tt.wantType {
				t.Errorf("type = %q, want %q", ref.Type, tt.wantType)
			}
			if (ref.Min == nil) != (tt.wantMin == nil) {
				t.Fatalf("min = %v, want %v", ref.Min, tt.wantMin)
			}
			if ref.Min != nil && *ref.Min != *tt.wantMin {
				t.Errorf("min = %v, want %v", *ref.Min, *tt.wantMin)
			}
			if (ref.Max == nil) != (tt.wantMax == nil) {
				t.Fatalf("max = %v, want %v", ref.Max, tt.wantMax)
			}
			if ref.Max != nil && *ref.Max != *tt.wantMax {
				t.Errorf("max = %v, want %v", *ref.Max, *tt.wantMax)
			}
		})
	}
}

func TestParseReferenceLabeledBands(t *testing.T) {
	ref := ParseReference("> 160 Alto")
	if ref == nil || ref.Type != RefBands {
		t.Fatalf("ParseReference(> 160 Alto) = %+v, want bands", ref)
	}
	if len(ref.Bands) != 1 {
		t.Fatalf("bands = %d, want 1", len(ref.Bands))
	}
	b := ref.Bands[0]
	if b.Min == nil || *b.Min != 160 || b.Label != "Alto" || b.Op != ">" {
		t.Errorf("band = %+v, want min=160 op=> label=Alto", b)
	}

	ref = ParseReference("< 130 Optimo")
	if ref == nil || ref.Type != RefBands || len(ref.Bands) != 1 {
		t.Fatalf("ParseReference(< 130 Optimo) = %+v, want 1 band", ref)
	}
	b = ref.Bands[0]
	if b.Max == nil || *b.Max != 130 || b.Label != "Optimo" {
		t.Errorf("band = %+v, want max=130 label=Optimo", b)
	}
}

func TestParseReferenceMultipleBands(t *testing.T) {
	ref := ParseReference("< 150; 150 a 199 Limite; > 240 Alto")
	if ref == nil || ref.Type != RefBands {
		t.Fatalf("ParseReference = %+v, want bands", ref)
	}
	if len(ref.Bands) != 3 {
		t.Fatalf("bands = %d, want 3", len(ref.Bands))
	}
	if ref.Bands[0].Max == nil || *ref.Bands[0].Max != 150 {
		t.Errorf("band 0 = %+v, want max=150", ref.Bands[0])
	}
	if ref.Bands[1].Label != "Limite" || ref.Bands[1].Min == nil || *ref.Bands[1].Min != 150 {
		t.Errorf("band 1 = %+v, want 150-199 Limite", ref.Bands[1])
	}
	if ref.Bands[2].Min == nil || *ref.Bands[2].Min != 240 || ref.Bands[2].Label != "Alto" {
		t.Errorf("band 2 = %+v, want min=240 Alto", ref.Bands[2])
	}
}

func TestParseReferenceUnparseable(t *testing.T) {
	for _, in := range []string{"", "ver nota", "-", "Referencia:"} {
		if ref := ParseReference(in); ref != nil {
			t.Errorf("ParseReference(%q) = %+v, want nil", in, ref)
		}
	}
}

func TestSplitReference(t *testing.T) {
	tests := []struct {
		in       string
		wantBase string
		wantRef  string
	}{
		{"CREATININA 2.46 mg/dL (0.7 a 1.3)", "CREATININA 2.46 mg/dL", "0.7 a 1.3"},
		{"GLUCOSA 94 mg/dL Referencia: 70 a 100", "GLUCOSA 94 mg/dL", "70 a 100"},
		{"HEMOGLOBINA 13.8 g/dL", "HEMOGLOBINA 13.8 g/dL", ""},
	}

	for _, tt := range tests {
		base, ref := SplitReference(tt.in)
		if base != tt.wantBase || ref != tt.wantRef {
			t.Errorf("SplitReference(%q) = (%q, %q), want (%q, %q)",
				tt.in, base, ref, tt.wantBase, tt.wantRef)
		}
	}
}
