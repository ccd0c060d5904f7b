package ringlb

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Config is the top-level configuration an external loader hands to this
// package. Loading it from a file (and the file format) is the loader's
// concern; the types here only define the shape and validate it. The JSON
// unmarshalers are a convenience for loaders that happen to use JSON.
type Config struct {
	Servers []ServerConfig `json:"servers"`
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if len(c.Servers) == 0 {
		return NewError("CONFIG", ErrCodeBadConfig, "at least one server is required")
	}
	for i, s := range c.Servers {
		if err := s.Validate(); err != nil {
			return WrapError(fmt.Sprintf("CONFIG[%d]", i), err)
		}
	}
	return nil
}

// ServerConfig describes one listener and its upstream targets.
type ServerConfig struct {
	Name     string         `json:"name"`
	Bind     string         `json:"bind"`
	Targets  []TargetConfig `json:"targets"`
	Strategy Strategy       `json:"strategy,omitempty"`
}

// Validate checks one server entry.
func (s ServerConfig) Validate() error {
	if s.Bind == "" {
		return NewError("CONFIG", ErrCodeBadConfig, "server bind address is required")
	}
	if len(s.Targets) == 0 {
		return NewError("CONFIG", ErrCodeBadConfig, "server needs at least one target")
	}
	for _, t := range s.Targets {
		if t.Address == "" {
			return NewError("CONFIG", ErrCodeBadConfig, "target address is required")
		}
	}
	switch s.Strategy {
	case "", StrategyRoundRobin, StrategyLeastConnection:
	default:
		return NewError("CONFIG", ErrCodeBadConfig,
			fmt.Sprintf("unknown strategy %q", s.Strategy))
	}
	return nil
}

// Strategy names the balancing algorithm for a server.
type Strategy string

const (
	// StrategyRoundRobin is the default.
	StrategyRoundRobin Strategy = "round-robin"
	// StrategyLeastConnection is reserved; selecting it fails at worker
	// construction.
	StrategyLeastConnection Strategy = "least-connection"
)

// TargetConfig is one upstream entry: either a bare address string or a
// detailed object with per-target options. Durations are milliseconds;
// zero means unset.
type TargetConfig struct {
	Address     string `json:"address"`
	KeepAliveMs uint64 `json:"keep_alive_ms,omitempty"`
	DomainTTLMs uint64 `json:"domain_ttl_ms,omitempty"`
}

// UnmarshalJSON accepts both the bare-string and the detailed-object
// forms. Unknown fields in the object form are rejected.
func (t *TargetConfig) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Address = s
		t.KeepAliveMs = 0
		t.DomainTTLMs = 0
		return nil
	}

	type detailed TargetConfig
	var d detailed
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return fmt.Errorf("target must be an address string or a detailed object: %w", err)
	}
	*t = TargetConfig(d)
	return nil
}

// MarshalJSON writes the bare-string form when no option is set.
func (t TargetConfig) MarshalJSON() ([]byte, error) {
	if t.KeepAliveMs == 0 && t.DomainTTLMs == 0 {
		return json.Marshal(t.Address)
	}
	type detailed TargetConfig
	return json.Marshal(detailed(t))
}

// LastServer returns the server entry the single-worker core drives.
// Multi-server configurations run only their last entry today; per-server
// workers on distinct threads are a future extension.
func LastServer(c Config) (ServerConfig, error) {
	if err := c.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return c.Servers[len(c.Servers)-1], nil
}
