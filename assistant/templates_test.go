package assistant

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultTemplates(t *testing.T) {
	tpl := DefaultTemplates()
	want := []string{"pidana", "perdata", "keluarga", "bisnis", "properti", "tenaga_kerja"}
	if len(tpl.Topics) != len(want) {
		t.Fatalf("topics: got %d, want %d", len(tpl.Topics), len(want))
	}
	for i, name := range want {
		if tpl.Topics[i].Name != name {
			t.Errorf("topic %d: got %q, want %q", i, tpl.Topics[i].Name, name)
		}
	}
	if tpl.Confidence.Pro != (Range{Min: 85, Max: 98}) {
		t.Errorf("pro confidence: got %+v", tpl.Confidence.Pro)
	}
	if !strings.HasPrefix(tpl.Disclaimers.Free, "Jawaban ini bersifat umum") {
		t.Errorf("free disclaimer: %q", tpl.Disclaimers.Free)
	}
}

func TestDetect(t *testing.T) {
	tpl := DefaultTemplates()
	tests := []struct {
		message string
		want    string
	}{
		{"Saya jadi korban PENIPUAN online", "pidana"},
		{"Bagaimana mengajukan gugatan wanprestasi?", "perdata"},
		{"proses perceraian dan hak asuh", "keluarga"},
		{"mendirikan perusahaan baru", "bisnis"},
		{"sertifikat tanah ganda", "properti"},
		{"gaji lembur tidak dibayar", "tenaga_kerja"},
		// pidana is checked before tenaga_kerja
		{"karyawan melakukan pencurian", "pidana"},
		{"halo, selamat pagi", "umum"},
		{"", "umum"},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			if got := tpl.Detect(tt.message); got != tt.want {
				t.Errorf("Detect(%q): got %q, want %q", tt.message, got, tt.want)
			}
		})
	}
}

func TestAnswerFallback(t *testing.T) {
	tpl := DefaultTemplates()
	if got := tpl.Answer("umum", false); got != tpl.Fallback.Free {
		t.Errorf("free fallback: got %q", got)
	}
	if got := tpl.Answer("umum", true); got != tpl.Fallback.Pro {
		t.Errorf("pro fallback: got %q", got)
	}
}

func TestParseTemplatesInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "topics: [unclosed"},
		{"empty", ""},
		{"bad range", `
fallback_topic: umum
fallback: {free: a, pro: b}
confidence: {free: {min: 80, max: 20}, pro: {min: 1, max: 2}}
`},
		{"topic without keywords", `
fallback_topic: umum
fallback: {free: a, pro: b}
confidence: {free: {min: 1, max: 2}, pro: {min: 1, max: 2}}
topics:
  - {name: pidana, free: a, pro: b}
`},
		{"duplicate topic", `
fallback_topic: umum
fallback: {free: a, pro: b}
confidence: {free: {min: 1, max: 2}, pro: {min: 1, max: 2}}
topics:
  - {name: x, keywords: [a], free: a, pro: b}
  - {name: x, keywords: [b], free: a, pro: b}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTemplates([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadTemplatesOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	data := `
fallback_topic: lainnya
fallback: {free: umum gratis, pro: umum pro}
confidence: {free: {min: 10, max: 10}, pro: {min: 90, max: 90}}
topics:
  - name: pajak
    keywords: [Pajak, NPWP]
    free: jawaban pajak
    pro: analisis pajak
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	tpl, err := LoadTemplates(path)
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}
	if got := tpl.Detect("lapor pajak tahunan"); got != "pajak" {
		t.Errorf("Detect: got %q, want pajak", got)
	}
	if got := tpl.Detect("cerai"); got != "lainnya" {
		t.Errorf("Detect fallback: got %q, want lainnya", got)
	}

	if _, err := LoadTemplates(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}
