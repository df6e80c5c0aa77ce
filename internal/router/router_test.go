package router

import (
	"testing"

	"github.com/nzconn/nzgo/internal/config"
)

func newTestConfig() *config.Config {
	return &config.Config{
		Defaults: config.PoolDefaults{
			MinConnections: 2,
			MaxConnections: 20,
		},
		Profiles: map[string]config.ProfileConfig{
			"warehouse_1": {
				Host:     "nps1.internal",
				Port:     5480,
				Database: "db1",
				Username: "user1",
			},
			"warehouse_2": {
				Host:     "nps2.internal",
				Port:     5480,
				Database: "db2",
				Username: "user2",
			},
		},
	}
}

func TestResolve(t *testing.T) {
	r := New(newTestConfig())

	p, err := r.Resolve("warehouse_1")
	if err != nil {
		t.Fatalf("Resolve warehouse_1 failed: %v", err)
	}
	if p.Host != "nps1.internal" {
		t.Errorf("expected nps1.internal, got %s", p.Host)
	}
	if p.Database != "db1" {
		t.Errorf("expected db1, got %s", p.Database)
	}
}

func TestResolveUnknown(t *testing.T) {
	r := New(newTestConfig())

	_, err := r.Resolve("nonexistent")
	if err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestAddAndRemoveProfile(t *testing.T) {
	r := New(newTestConfig())

	p := config.ProfileConfig{
		Host:     "nps3.internal",
		Port:     5480,
		Database: "newdb",
		Username: "newuser",
	}

	r.AddProfile("warehouse_3", p)

	resolved, err := r.Resolve("warehouse_3")
	if err != nil {
		t.Fatalf("Resolve warehouse_3 failed: %v", err)
	}
	if resolved.Host != "nps3.internal" {
		t.Errorf("expected nps3.internal, got %s", resolved.Host)
	}

	if !r.RemoveProfile("warehouse_3") {
		t.Error("RemoveProfile should return true")
	}

	_, err = r.Resolve("warehouse_3")
	if err == nil {
		t.Error("expected error after removal")
	}
}

func TestRemoveNonexistent(t *testing.T) {
	r := New(newTestConfig())

	if r.RemoveProfile("nonexistent") {
		t.Error("RemoveProfile should return false for nonexistent profile")
	}
}

func TestListProfiles(t *testing.T) {
	r := New(newTestConfig())

	profiles := r.List()
	if len(profiles) != 2 {
		t.Errorf("expected 2 profiles, got %d", len(profiles))
	}
}

func TestReload(t *testing.T) {
	r := New(newTestConfig())

	newCfg := &config.Config{
		Defaults: config.PoolDefaults{
			MinConnections: 5,
			MaxConnections: 50,
		},
		Profiles: map[string]config.ProfileConfig{
			"warehouse_new": {
				Host:     "nps-new.internal",
				Port:     5480,
				Database: "newdb",
				Username: "newuser",
			},
		},
	}

	r.Reload(newCfg)

	_, err := r.Resolve("warehouse_1")
	if err == nil {
		t.Error("expected error for old profile after reload")
	}

	p, err := r.Resolve("warehouse_new")
	if err != nil {
		t.Fatalf("Resolve warehouse_new failed: %v", err)
	}
	if p.Host != "nps-new.internal" {
		t.Errorf("expected nps-new.internal, got %s", p.Host)
	}

	defaults := r.Defaults()
	if defaults.MaxConnections != 50 {
		t.Errorf("expected max connections 50, got %d", defaults.MaxConnections)
	}
}

func TestPauseResumeProfile(t *testing.T) {
	r := New(newTestConfig())

	if r.IsPaused("warehouse_1") {
		t.Error("warehouse_1 should not be paused initially")
	}

	if !r.Pause("warehouse_1") {
		t.Error("Pause should return true for existing profile")
	}
	if !r.IsPaused("warehouse_1") {
		t.Error("warehouse_1 should be paused")
	}

	if r.IsPaused("warehouse_2") {
		t.Error("warehouse_2 should not be paused")
	}

	if !r.Resume("warehouse_1") {
		t.Error("Resume should return true for existing profile")
	}
	if r.IsPaused("warehouse_1") {
		t.Error("warehouse_1 should not be paused after resume")
	}

	if r.Pause("nonexistent") {
		t.Error("Pause should return false for nonexistent profile")
	}
	if r.Resume("nonexistent") {
		t.Error("Resume should return false for nonexistent profile")
	}

	r.Pause("warehouse_1")
	r.RemoveProfile("warehouse_1")
	if r.IsPaused("warehouse_1") {
		t.Error("paused state should be cleaned up after removal")
	}
}
