package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "inau.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
listen: ":9090"
catalog:
  path: /var/lib/inau/inau.db
store:
  root: /var/lib/inau/store
builder:
  workspace_root: /var/lib/inau/builds
  ssh_key_path: /etc/inau/id_ed25519
installer:
  ssh_key_path: /etc/inau/id_ed25519
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.Catalog.Path != "/var/lib/inau/inau.db" {
		t.Errorf("Catalog.Path = %q", cfg.Catalog.Path)
	}
	if cfg.Builder.SSHUser != "root" {
		t.Errorf("Builder.SSHUser default = %q, want root", cfg.Builder.SSHUser)
	}
	if cfg.Webhook.EmailDomain != "localhost" {
		t.Errorf("Webhook.EmailDomain default = %q, want localhost", cfg.Webhook.EmailDomain)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	t.Parallel()
	if _, err := Load("/non/existent/inau.yaml"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "catalog: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected YAML parse error")
	}
}

func TestLoadMissingRequiredFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
listen: ":9090"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for missing required fields")
	}
}

func TestSMTPPortRequiredWhenHostSet(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Catalog:   CatalogConfig{Path: "x"},
		Store:     StoreConfig{Root: "x"},
		Builder:   BuilderConfig{WorkspaceRoot: "x", SSHKeyPath: "x"},
		Installer: InstallerConfig{SSHKeyPath: "x"},
		SMTP:      SMTPConfig{Host: "smtp.example.org"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for smtp.host without smtp.port")
	}
}

func TestEnvironmentVariableSubstitution(t *testing.T) {
	t.Parallel()
	os.Setenv("INAU_TEST_DB", "/tmp/inau-test.db")
	t.Cleanup(func() { os.Unsetenv("INAU_TEST_DB") })

	path := writeConfig(t, `
catalog:
  path: ${INAU_TEST_DB}
store:
  root: ${INAU_TEST_STORE:-/var/lib/inau/store}
builder:
  workspace_root: /var/lib/inau/builds
  ssh_key_path: /etc/inau/id_ed25519
installer:
  ssh_key_path: /etc/inau/id_ed25519
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Catalog.Path != "/tmp/inau-test.db" {
		t.Errorf("Catalog.Path = %q, want substituted env value", cfg.Catalog.Path)
	}
	if cfg.Store.Root != "/var/lib/inau/store" {
		t.Errorf("Store.Root = %q, want default fallback", cfg.Store.Root)
	}
}
