package appconfig

import (
	"testing"
	"time"

	"pkt.systems/scrollback/schema"
)

func TestDefaultConfigServiceConfig(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	svc, err := cfg.ServiceConfig()
	if err != nil {
		t.Fatalf("service config: %v", err)
	}
	if svc.ChunkLines != schema.DefaultChunkLines {
		t.Fatalf("expected chunk lines %d, got %d", schema.DefaultChunkLines, svc.ChunkLines)
	}
	if svc.DefaultFormat != schema.FormatPlain || svc.HistoryMode != schema.HistoryUnlimited {
		t.Fatalf("unexpected defaults: %+v", svc)
	}
	if svc.SilenceTimeout != schema.DefaultSilenceTimeout {
		t.Fatalf("expected silence timeout %s, got %s", schema.DefaultSilenceTimeout, svc.SilenceTimeout)
	}
}

func TestServiceConfigConvertsSections(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.Export.DefaultFormat = "HTML"
	cfg.History = HistoryConfig{Mode: "fixed", MaxLines: 42}
	cfg.Monitor.SilenceSeconds = 3
	cfg.Search.MatchCase = true
	svc, err := cfg.ServiceConfig()
	if err != nil {
		t.Fatalf("service config: %v", err)
	}
	if svc.DefaultFormat != schema.FormatHTML || svc.HistoryMode != schema.HistoryFixed || svc.HistoryMax != 42 {
		t.Fatalf("unexpected conversion: %+v", svc)
	}
	if svc.SilenceTimeout != 3*time.Second || !svc.MatchCase {
		t.Fatalf("unexpected monitor/search conversion: %+v", svc)
	}

	cfg.Export.DefaultFormat = "pdf"
	if _, err := cfg.ServiceConfig(); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}
