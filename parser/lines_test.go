package parser

import (
	"reflect"
	"testing"
)

func TestNormalizeLines(t *testing.T) {
	text := "GLUCOSA ......... 94\n\n  UREA   32  \nHEMOGLOBINA×10\n"
	got := NormalizeLines(text)
	want := []string{"GLUCOSA 94", "UREA 32", "HEMOGLOBINAx10"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeLines = %v, want %v", got, want)
	}
}

func TestFoldText(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Método", "METODO"},
		{"química sanguínea", "QUIMICA SANGUINEA"},
		{"EXAMEN", "EXAMEN"},
	}
	for _, tt := range tests {
		if got := FoldText(tt.in); got != tt.want {
			t.Errorf("FoldText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsSectionHeader(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"QUIMICA SANGUINEA", true},
		{"PERFIL DE LIPIDOS COMPLETO", true},
		{"BIOMETRIA HEMATICA", true},
		{"GLUCOSA 94 mg/dL", false},      // has digits
		{"RESULTADOS", false},            // table header
		{"RIESGO CARDIOVASCULAR", false}, // banned band label vocabulary
		{"NEGATIVO", false},              // categorical value
		{"Calle Reforma 123", false},
		{"GLUCOSA EN ORINA NEGATIVO", false},
	}
	for _, tt := range tests {
		if got := isSectionHeader(tt.line); got != tt.want {
			t.Errorf("isSectionHeader(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestLooksLikePersonName(t *testing.T) {
	if !looksLikePersonName("PEREZ LOPEZ JUAN A") {
		t.Error("initials-bearing name not flagged")
	}
	if looksLikePersonName("QUIMICA SANGUINEA") {
		t.Error("section flagged as person name")
	}
}

func TestDetectSpecimen(t *testing.T) {
	tests := []struct{ line, want string }{
		{"MUESTRA ANALITICA: SUERO", "SUERO"},
		{"Muestra analítica: Orina 24 hrs", "ORINA 24 HRS"},
		{"MUESTRA ANALITICA: LIQUIDO SINOVIAL", "LIQUIDO SINOVIAL"},
		{"METODO: Espectrofotometria", ""},
		{"MUESTRA ANALITICA", ""},
	}
	for _, tt := range tests {
		if got := detectSpecimen(tt.line); got != tt.want {
			t.Errorf("detectSpecimen(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestDetectMethod(t *testing.T) {
	if got := detectMethod("METODO: Quimioluminiscencia"); got != "Quimioluminiscencia" {
		t.Errorf("detectMethod = %q", got)
	}
	if got := detectMethod("GLUCOSA 94"); got != "" {
		t.Errorf("detectMethod on value line = %q, want empty", got)
	}
}

func TestIsBandOnlyLine(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"100 a 129 Cercano al optimo", true},
		{"> 240 Alto", true},
		{"< 0.5", true},
		{"GLUCOSA 94 mg/dL", false}, // value row, name leads
		{"COLESTEROL 100 a 129", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isBandOnlyLine(tt.line); got != tt.want {
			t.Errorf("isBandOnlyLine(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestLooksLikeUnit(t *testing.T) {
	for _, u := range []string{"mg/dL", "x10^3/uL", "ng/mL", "%", "mL/min/1.73m2"} {
		if !looksLikeUnit(u) {
			t.Errorf("looksLikeUnit(%q) = false", u)
		}
	}
	for _, u := range []string{"94", "12/05/2025", "dos palabras", ""} {
		if looksLikeUnit(u) {
			t.Errorf("looksLikeUnit(%q) = true", u)
		}
	}
}
