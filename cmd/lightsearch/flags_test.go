package main

import (
	"testing"

	"github.com/banshee-data/lightsearch/internal/config"
)

func TestFlagDefaults(t *testing.T) {
	if *configPath != config.DefaultConfigPath {
		t.Errorf("expected -config default %q, got %q", config.DefaultConfigPath, *configPath)
	}
	if *dbPath != "lightsearch.db" {
		t.Errorf("expected -db default lightsearch.db, got %q", *dbPath)
	}
	if *listen != ":8080" {
		t.Errorf("expected -listen default :8080, got %q", *listen)
	}
	if *devMode {
		t.Error("expected -dev to default to false")
	}
	// -1 defers to the pass count in the config file.
	if *passes != -1 {
		t.Errorf("expected -passes default -1, got %d", *passes)
	}
	if *verbose {
		t.Error("expected -verbose to default to false")
	}
}

func TestVersionFlagDefault(t *testing.T) {
	if *showVer {
		t.Error("expected -version to default to false")
	}
}
