package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "VOICE_API_BASE_URL", "VOICE_TURN_MAX_RECORDING", "VOICE_TURN_MIN_WAV_BYTES",
		"VOICE_TURN_RELISTEN_DELAY", "VOICE_WS_MAX_DIAL_ATTEMPTS", "VOICE_AUDIO_SAMPLE_RATE", "VOICE_AUDIO_LOCAL",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Turn.MaxRecording != 10*time.Second {
		t.Fatalf("expected 10s ceiling, got %s", cfg.Turn.MaxRecording)
	}
	if cfg.Turn.MinWAVBytes != 1000 {
		t.Fatalf("expected 1000 byte floor, got %d", cfg.Turn.MinWAVBytes)
	}
	if cfg.Turn.RelistenDelay != 800*time.Millisecond {
		t.Fatalf("expected 800ms relisten delay, got %s", cfg.Turn.RelistenDelay)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("expected 16kHz, got %d", cfg.Audio.SampleRate)
	}
	if !cfg.Audio.LocalDevices || cfg.Audio.OutputRate != 24000 {
		t.Fatalf("unexpected audio output defaults %+v", cfg.Audio)
	}
	if cfg.Channel.MaxDialAttempts != 3 {
		t.Fatalf("expected 3 dial attempts, got %d", cfg.Channel.MaxDialAttempts)
	}
	if cfg.Broker.Enabled() {
		t.Fatalf("broker should be disabled without base url")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("VOICE_API_BASE_URL", "https://api.example.test/v1/")
	t.Setenv("VOICE_TURN_MAX_RECORDING", "5s")
	t.Setenv("VOICE_TURN_RELISTEN_DELAY", "250")
	t.Setenv("VOICE_WS_MAX_DIAL_ATTEMPTS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr %s", cfg.Server.Addr)
	}
	if cfg.Broker.BaseURL != "https://api.example.test/v1" {
		t.Fatalf("trailing slash should be trimmed, got %s", cfg.Broker.BaseURL)
	}
	if cfg.Turn.MaxRecording != 5*time.Second {
		t.Fatalf("unexpected ceiling %s", cfg.Turn.MaxRecording)
	}
	if cfg.Turn.RelistenDelay != 250*time.Millisecond {
		t.Fatalf("bare integers are milliseconds, got %s", cfg.Turn.RelistenDelay)
	}
	if cfg.Channel.MaxDialAttempts != 1 {
		t.Fatalf("dial attempts should clamp to 1, got %d", cfg.Channel.MaxDialAttempts)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("PORT", "80 80")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for PORT with spaces")
	}

	t.Setenv("PORT", "")
	t.Setenv("VOICE_TURN_MAX_RECORDING", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for bad duration")
	}

	t.Setenv("VOICE_TURN_MAX_RECORDING", "")
	t.Setenv("VOICE_AUDIO_LOCAL", "maybe")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for bad bool")
	}
}
