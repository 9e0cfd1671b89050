// Package config loads inaud's and inauctl's YAML configuration,
// following the teacher's internal/config package: a plain struct tree
// unmarshaled by go.yaml.in/yaml/v3, with ${VAR}/${VAR:-default} shell-style
// environment substitution applied to the raw bytes before unmarshaling,
// and field-level Validate() methods instead of a schema library.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

type Config struct {
	Listen    string          `yaml:"listen"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Store     StoreConfig     `yaml:"store"`
	Builder   BuilderConfig   `yaml:"builder"`
	Installer InstallerConfig `yaml:"installer"`
	SMTP      SMTPConfig      `yaml:"smtp,omitempty"`
	Webhook   WebhookConfig   `yaml:"webhook,omitempty"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
}

type StoreConfig struct {
	Root string `yaml:"root"`
}

type BuilderConfig struct {
	WorkspaceRoot string        `yaml:"workspace_root"`
	SSHKeyPath    string        `yaml:"ssh_key_path"`
	SSHUser       string        `yaml:"ssh_user,omitempty"`
	BuildTimeout  time.Duration `yaml:"build_timeout,omitempty"`

	// MacrosRepoURL, when set, names the shared build-macros support
	// repository spec.md §4.2.2 step 1 requires be cloned and
	// fast-forwarded on its default branch under every platform's
	// working directory before a target repository is checked out.
	// Left unset, no shared macros clone is maintained.
	MacrosRepoURL string `yaml:"macros_repo_url,omitempty"`
	MacrosBranch  string `yaml:"macros_branch,omitempty"`
	MacrosPath    string `yaml:"macros_path,omitempty"` // directory name under <platform_id>/, default "build-macros"
}

type InstallerConfig struct {
	SSHKeyPath string        `yaml:"ssh_key_path"`
	SSHUser    string        `yaml:"ssh_user,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
}

type SMTPConfig struct {
	Host   string `yaml:"host,omitempty"`
	Port   int    `yaml:"port,omitempty"`
	Sender string `yaml:"sender,omitempty"`
}

type WebhookConfig struct {
	EmailDomain string `yaml:"email_domain,omitempty"`
	Secret      string `yaml:"secret,omitempty"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Listen: ":8080",
		Builder: BuilderConfig{
			SSHUser:      "root",
			BuildTimeout: 2 * time.Hour,
			MacrosBranch: "main",
			MacrosPath:   "build-macros",
		},
		Installer: InstallerConfig{
			SSHUser: "root",
			Timeout: 5 * time.Minute,
		},
		Webhook: WebhookConfig{
			EmailDomain: "localhost",
		},
	}
}

// substituteEnvVars performs shell-style environment variable
// substitution in the raw YAML, supporting ${VAR}, ${VAR:-default} and
// ${VAR:+alternative}, repeated until a pass makes no further change
// so nested references resolve.
func substituteEnvVars(data []byte) []byte {
	content := string(data)
	envPattern := regexp.MustCompile(`\$\{([^${}]+)\}`)

	for {
		original := content
		content = envPattern.ReplaceAllStringFunc(content, func(match string) string {
			inner := envPattern.FindStringSubmatch(match)[1]

			if idx := strings.Index(inner, ":-"); idx != -1 {
				name := strings.TrimSpace(inner[:idx])
				def := strings.TrimSpace(inner[idx+2:])
				if v := os.Getenv(name); v != "" {
					return v
				}
				return def
			}
			if idx := strings.Index(inner, ":+"); idx != -1 {
				name := strings.TrimSpace(inner[:idx])
				alt := strings.TrimSpace(inner[idx+2:])
				if os.Getenv(name) != "" {
					return alt
				}
				return ""
			}
			return os.Getenv(strings.TrimSpace(inner))
		})
		if content == original {
			break
		}
	}
	return []byte(content)
}

// ValidationError names the offending field the way the teacher's
// config package does, instead of a bare fmt.Errorf string.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", e.Field, e.Message)
}

func (c *Config) Validate() error {
	var errs []error

	if c.Catalog.Path == "" {
		errs = append(errs, ValidationError{Field: "catalog.path", Message: "path is required"})
	}
	if c.Store.Root == "" {
		errs = append(errs, ValidationError{Field: "store.root", Message: "root is required"})
	}
	if c.Builder.WorkspaceRoot == "" {
		errs = append(errs, ValidationError{Field: "builder.workspace_root", Message: "workspace_root is required"})
	}
	if c.Builder.SSHKeyPath == "" {
		errs = append(errs, ValidationError{Field: "builder.ssh_key_path", Message: "ssh_key_path is required"})
	}
	if c.Installer.SSHKeyPath == "" {
		errs = append(errs, ValidationError{Field: "installer.ssh_key_path", Message: "ssh_key_path is required"})
	}
	if c.SMTP.Host != "" && c.SMTP.Port == 0 {
		errs = append(errs, ValidationError{Field: "smtp.port", Message: "port is required when host is set"})
	}

	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%s", strings.Join(msgs, "\n"))
}
