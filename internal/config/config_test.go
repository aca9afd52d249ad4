package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyDefaults(t *testing.T) {
	var c Config
	c.ApplyDefaults()
	if len(c.Game.Tracks) != 4 {
		t.Fatalf("tracks=%d want 4", len(c.Game.Tracks))
	}
	if c.Game.StakePolicy != StakePolicyStack {
		t.Fatalf("stake policy=%q", c.Game.StakePolicy)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"duplicate track", func(c *Config) {
			c.Game.Tracks = []TrackConfig{{Name: "1m", DurationMs: 60_000}, {Name: "1m", DurationMs: 60_000}}
		}},
		{"short duration", func(c *Config) {
			c.Game.Tracks = []TrackConfig{{Name: "x", DurationMs: 10}}
		}},
		{"bad track name", func(c *Config) {
			c.Game.Tracks = []TrackConfig{{Name: "a:b", DurationMs: 60_000}}
		}},
		{"min above max", func(c *Config) {
			c.Game.MinStake, c.Game.MaxStake = 10, 5
		}},
		{"unknown policy", func(c *Config) {
			c.Game.StakePolicy = "merge"
		}},
		{"budget above duration", func(c *Config) {
			c.Game.Tracks = []TrackConfig{{Name: "2s", DurationMs: 2_000}}
			c.Game.PlacementBudgetMs = 5_000
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var c Config
			c.ApplyDefaults()
			tc.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadFromFileYAML(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "c.yaml")
	body := "server:\n  port: 9090\ngame:\n  stake_policy: reject\n  tracks:\n    - name: 10s\n      duration_ms: 10000\n"
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := loadFromFile(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c.ApplyDefaults()
	if c.Server.Port != 9090 || c.Game.StakePolicy != StakePolicyReject {
		t.Fatalf("unexpected cfg: %+v", c.Game)
	}
	if tr, ok := c.Game.Track("10s"); !ok || tr.DurationMs != 10_000 {
		t.Fatalf("track lookup failed: %+v %v", tr, ok)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := loadFromFile(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error")
	}
}
