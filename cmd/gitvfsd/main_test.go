package main

import (
	"flag"
	"os"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestLoadConfigRequiresConfigOrObjectServerURL(t *testing.T) {
	set := flag.NewFlagSet("gitvfsd-test", flag.ContinueOnError)
	if err := dataDirFlag.Apply(set); err != nil {
		t.Fatalf("apply datadir flag: %v", err)
	}
	ctx := cli.NewContext(app, set, nil)

	if _, err := loadConfig(ctx); err == nil {
		t.Fatal("expected an error when neither --config nor a default objectServerURL is available")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	set := flag.NewFlagSet("gitvfsd-test", flag.ContinueOnError)
	if err := configFlag.Apply(set); err != nil {
		t.Fatalf("apply config flag: %v", err)
	}

	path := writeTempConfig(t)
	if err := set.Set(configFlag.Name, path); err != nil {
		t.Fatalf("set config flag: %v", err)
	}

	ctx := cli.NewContext(app, set, nil)
	cfg, err := loadConfig(ctx)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.ObjectServerURL == "" {
		t.Fatal("expected ObjectServerURL to be populated from file")
	}
}

func writeTempConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/gitvfsd.yaml"
	doc := "dataDir: " + dir + "\n" +
		"objectServerURL: https://example.com/repo.git\n" +
		"chunkSize: 8\nfetchWorkers: 2\nindexWorkers: 1\nhttpMaxAttempts: 3\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}
