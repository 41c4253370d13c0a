package scan

import (
	"strings"
	"testing"
)

func TestClassifyBoundaries(t *testing.T) {
	cfg := DefaultSizeConfig()
	const mib = 1024 * 1024

	cases := []struct {
		size int64
		want SizeTier
	}{
		{0, TierSmall},
		{10 * mib, TierSmall},      // exactly at the small threshold
		{10*mib + 1, TierMedium},   // one past it
		{100 * mib, TierMedium},    // exactly at the medium threshold
		{100*mib + 1, TierLarge},   // one past it
		{200 * mib, TierLarge},     // exactly at the scan ceiling
		{200*mib + 1, TierOversized},
	}
	for _, c := range cases {
		if got := cfg.Classify(c.size); got != c.want {
			t.Errorf("Classify(%d) = %v, want %v", c.size, got, c.want)
		}
	}
}

func TestSizeConfigValidateOrderingInvariants(t *testing.T) {
	valid := DefaultSizeConfig()
	if err := valid.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}

	cases := []struct {
		name string
		mut  func(c SizeConfig) SizeConfig
	}{
		{"small >= medium", func(c SizeConfig) SizeConfig { c.SmallMaxBytes = c.MediumMaxBytes; return c }},
		{"medium >= max", func(c SizeConfig) SizeConfig { c.MediumMaxBytes = c.MaxScanBytes; return c }},
		{"overlap >= chunk", func(c SizeConfig) SizeConfig { c.ChunkOverlapBytes = c.ChunkSizeBytes; return c }},
		{"large scan > medium", func(c SizeConfig) SizeConfig { c.LargeScanBytes = c.MediumMaxBytes + 1; return c }},
		{"zero small", func(c SizeConfig) SizeConfig { c.SmallMaxBytes = 0; return c }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if err := c.mut(valid).Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestPriorityFromSize(t *testing.T) {
	const mib = 1024 * 1024
	cases := []struct {
		size int64
		want uint32
	}{
		{0, 0},
		{mib - 1, 0},
		{mib, 1},
		{50 * mib, 50},
		{999 * mib, 999},
		{5000 * mib, 999}, // capped
		{-1, 0},
	}
	for _, c := range cases {
		if got := PriorityFromSize(c.size); got != c.want {
			t.Errorf("PriorityFromSize(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}

func TestDownloadMetadataValidate(t *testing.T) {
	valid := DownloadMetadata{
		OriginURL: "https://example.com/a.txt",
		Filename:  "a.txt",
		MIMEType:  "text/plain",
		SHA256Hex: strings.Repeat("0", 64),
		ByteCount: 1024,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid metadata to pass, got %v", err)
	}

	cases := []struct {
		name string
		mut  func(m DownloadMetadata) DownloadMetadata
	}{
		{"empty url", func(m DownloadMetadata) DownloadMetadata { m.OriginURL = ""; return m }},
		{"url too long", func(m DownloadMetadata) DownloadMetadata { m.OriginURL = "http://x/" + strings.Repeat("a", 10000); return m }},
		{"empty filename", func(m DownloadMetadata) DownloadMetadata { m.Filename = ""; return m }},
		{"filename too long", func(m DownloadMetadata) DownloadMetadata { m.Filename = strings.Repeat("a", 256); return m }},
		{"uppercase sha256", func(m DownloadMetadata) DownloadMetadata { m.SHA256Hex = strings.Repeat("A", 64); return m }},
		{"negative size", func(m DownloadMetadata) DownloadMetadata { m.ByteCount = -1; return m }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if err := c.mut(valid).Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
