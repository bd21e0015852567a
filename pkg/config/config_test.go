package config

import (
	"path/filepath"
	"testing"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	conf, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if len(conf.ProcessBlacklist) == 0 {
		t.Fatalf("default blacklist not loaded")
	}
	if conf.MaxListMatches != nil || conf.ScanDataType != "" || conf.FreezeTarget {
		t.Fatalf("disabled options set: %#v", conf)
	}

	p, err := GetConfigFilePath(configFile)
	if err != nil {
		t.Fatal(err)
	}
	if p != filepath.Join(dir, "memsieve", "config.yml") {
		t.Fatalf("config path %q", p)
	}
}

func TestSaveConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	conf, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	n := 5
	conf.MaxListMatches = &n
	conf.ScanDataType = "int32"
	conf.ReverseEndianness = true
	conf.Aliases = map[string][]string{"list": {"l"}}
	if err := SaveConfig(conf); err != nil {
		t.Fatal(err)
	}

	got, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if got.MaxListMatches == nil || *got.MaxListMatches != 5 || got.ScanDataType != "int32" || !got.ReverseEndianness {
		t.Fatalf("saved config not restored: %#v", got)
	}
	if len(got.Aliases["list"]) != 1 || got.Aliases["list"][0] != "l" {
		t.Fatalf("aliases %v", got.Aliases)
	}
}

func TestLoadBroken(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yml")
	if err := Save(p, &Config{}); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(p + ".missing"); err == nil {
		t.Fatalf("loaded a missing file")
	}
}
