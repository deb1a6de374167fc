package main

import (
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := defaultConfig()
	t.Setenv("SPD_NODE_BAUD", "230400")
	t.Setenv("SPD_NODE_MDNS_ENABLE", "true")
	t.Setenv("SPD_NODE_SERIAL_READ_TIMEOUT", "100ms")
	t.Setenv("SPD_NODE_LOG_METRICS_INTERVAL", "5s")
	t.Setenv("SPD_NODE_POLL", "VERSION,HDRPACK")
	t.Setenv("SPD_NODE_NATS_URL", "nats://127.0.0.1:4222")
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.baud != 230400 {
		t.Fatalf("expected baud override, got %d", base.baud)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.serialReadTO != 100*time.Millisecond {
		t.Fatalf("expected serialReadTO 100ms got %v", base.serialReadTO)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
	if len(base.poll) != 2 || base.natsURL != "nats://127.0.0.1:4222" {
		t.Fatalf("poll %v nats %q", base.poll, base.natsURL)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &appConfig{baud: 115200}
	t.Setenv("SPD_NODE_BAUD", "230400")
	// Simulate user passed -baud flag (so env should be ignored)
	if err := applyEnvOverrides(base, map[string]struct{}{"baud": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.baud != 115200 {
		t.Fatalf("expected baud unchanged 115200 got %d", base.baud)
	}
}

func TestApplyEnvOverrides_BadValues(t *testing.T) {
	for k, v := range map[string]string{
		"SPD_NODE_HUB_BUFFER":  "notint",
		"SPD_NODE_CYCLE":       "soon",
		"SPD_NODE_STDIO":       "maybe",
		"SPD_NODE_QUEUE_DEPTH": "0",
	} {
		t.Run(k, func(t *testing.T) {
			t.Setenv(k, v)
			if err := applyEnvOverrides(defaultConfig(), map[string]struct{}{}); err == nil {
				t.Fatalf("expected error for %s=%s", k, v)
			}
		})
	}
}
