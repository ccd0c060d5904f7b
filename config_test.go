package ringlb

import (
	"encoding/json"
	"testing"
)

func TestConfigUnmarshal(t *testing.T) {
	raw := `{
		"servers": [
			{
				"name": "edge",
				"bind": "0.0.0.0:9999",
				"targets": [
					"127.0.0.1:9001",
					{"address": "127.0.0.1:9002", "keep_alive_ms": 1000}
				],
				"strategy": "round-robin"
			}
		]
	}`

	var cfg Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if len(cfg.Servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(cfg.Servers))
	}
	s := cfg.Servers[0]
	if s.Name != "edge" || s.Bind != "0.0.0.0:9999" {
		t.Errorf("server mangled: %+v", s)
	}
	if s.Strategy != StrategyRoundRobin {
		t.Errorf("strategy = %q", s.Strategy)
	}

	if len(s.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(s.Targets))
	}
	if s.Targets[0].Address != "127.0.0.1:9001" || s.Targets[0].KeepAliveMs != 0 {
		t.Errorf("bare target mangled: %+v", s.Targets[0])
	}
	if s.Targets[1].Address != "127.0.0.1:9002" || s.Targets[1].KeepAliveMs != 1000 {
		t.Errorf("detailed target mangled: %+v", s.Targets[1])
	}
}

func TestTargetConfigRejectsUnknownFields(t *testing.T) {
	var tc TargetConfig
	err := json.Unmarshal([]byte(`{"address": "127.0.0.1:9001", "weight": 3}`), &tc)
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestTargetConfigRoundTrip(t *testing.T) {
	bare := TargetConfig{Address: "10.0.0.1:80"}
	data, err := json.Marshal(bare)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"10.0.0.1:80"` {
		t.Errorf("bare target should marshal as a string, got %s", data)
	}

	detailed := TargetConfig{Address: "10.0.0.1:80", KeepAliveMs: 500}
	data, err = json.Marshal(detailed)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back TargetConfig
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != detailed {
		t.Errorf("round trip mangled: %+v", back)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"no servers", Config{}},
		{"no bind", Config{Servers: []ServerConfig{{Targets: []TargetConfig{{Address: "a:1"}}}}}},
		{"no targets", Config{Servers: []ServerConfig{{Bind: "x:1"}}}},
		{"empty target address", Config{Servers: []ServerConfig{{Bind: "x:1", Targets: []TargetConfig{{}}}}}},
		{"bad strategy", Config{Servers: []ServerConfig{{
			Bind:     "x:1",
			Targets:  []TargetConfig{{Address: "a:1"}},
			Strategy: "random",
		}}}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !IsCode(err, ErrCodeBadConfig) {
				t.Errorf("expected ErrCodeBadConfig, got %v", err)
			}
		})
	}
}

func TestLastServer(t *testing.T) {
	cfg := Config{Servers: []ServerConfig{
		{Name: "a", Bind: "x:1", Targets: []TargetConfig{{Address: "t:1"}}},
		{Name: "b", Bind: "x:2", Targets: []TargetConfig{{Address: "t:2"}}},
	}}

	s, err := LastServer(cfg)
	if err != nil {
		t.Fatalf("LastServer: %v", err)
	}
	if s.Name != "b" {
		t.Errorf("expected the last server, got %q", s.Name)
	}

	if _, err := LastServer(Config{}); err == nil {
		t.Error("expected error for empty config")
	}
}
