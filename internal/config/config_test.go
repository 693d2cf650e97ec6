package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected port 8080, got %q", cfg.Port)
	}
	if cfg.SendTimeout != 15*time.Second {
		t.Fatalf("expected send timeout 15s, got %s", cfg.SendTimeout)
	}
	if cfg.QueueProcessInterval != 30*time.Second {
		t.Fatalf("expected queue interval 30s, got %s", cfg.QueueProcessInterval)
	}
	if cfg.QueueBatchSize != 10 {
		t.Fatalf("expected batch size 10, got %d", cfg.QueueBatchSize)
	}
	if cfg.RoutingSerialize || cfg.JobsEnabled {
		t.Fatalf("expected serialization and jobs off by default")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://desk@localhost/desk")
	t.Setenv("ROUTING_SERIALIZE", "true")
	t.Setenv("PRESENCE_TIMEOUT", "500ms")
	t.Setenv("SEND_RATE_PER_SECOND", "2.5")
	t.Setenv("MARKETPLACE_CLIENT_ID", "client-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://desk@localhost/desk" {
		t.Fatalf("unexpected database url %q", cfg.DatabaseURL)
	}
	if !cfg.RoutingSerialize {
		t.Fatalf("expected routing serialization on")
	}
	if cfg.PresenceTimeout != 500*time.Millisecond {
		t.Fatalf("expected 500ms presence timeout, got %s", cfg.PresenceTimeout)
	}
	if cfg.SendRatePerSecond != 2.5 {
		t.Fatalf("expected send rate 2.5, got %v", cfg.SendRatePerSecond)
	}
	if cfg.MarketplaceClientID != "client-1" {
		t.Fatalf("unexpected marketplace client id %q", cfg.MarketplaceClientID)
	}
}
