package data

import "testing"

func TestConfigValidate(t *testing.T) {
	cfg := Config{Version: 2, ChunkerPolynomial: "3DA3358B4DC173"}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestConfigValidateRejectsUnsupportedVersion(t *testing.T) {
	cfg := Config{Version: 99, ChunkerPolynomial: "3DA3358B4DC173"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestConfigValidateRejectsCompressionOnVersion1(t *testing.T) {
	level := 3
	cfg := Config{Version: 1, ChunkerPolynomial: "3DA3358B4DC173", CompressionLevel: &level}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error: version 1 forbids compression")
	}
}

func TestConfigValidateRejectsBadPolynomial(t *testing.T) {
	cfg := Config{Version: 2, ChunkerPolynomial: "not hex"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for malformed polynomial")
	}
}

func TestPackSizeForDefaults(t *testing.T) {
	cfg := Config{Version: 2, ChunkerPolynomial: "3DA3358B4DC173"}

	data := cfg.PackSizeFor(DataBlob)
	if data.Target != 16<<20 {
		t.Fatalf("data pack target = %d, want %d", data.Target, 16<<20)
	}
	tree := cfg.PackSizeFor(TreeBlob)
	if tree.Target != 4<<20 {
		t.Fatalf("tree pack target = %d, want %d", tree.Target, 4<<20)
	}
	if data.GrowFactor != 32 || tree.GrowFactor != 32 {
		t.Fatalf("expected default grow factor 32, got data=%d tree=%d", data.GrowFactor, tree.GrowFactor)
	}
}

func TestPackSizeForOverride(t *testing.T) {
	cfg := Config{
		Version:           2,
		ChunkerPolynomial: "3DA3358B4DC173",
		PackSize: map[string]PackSizeConfig{
			"data": {Target: 1 << 20, GrowFactor: 4, Limit: 2 << 20},
		},
	}
	got := cfg.PackSizeFor(DataBlob)
	if got.Target != 1<<20 || got.GrowFactor != 4 || got.Limit != 2<<20 {
		t.Fatalf("PackSizeFor(DataBlob) = %+v, want overridden values", got)
	}
}
