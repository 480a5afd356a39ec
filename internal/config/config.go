package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"changeboard/internal/domain"
)

// Config models changeboard.yml.
type Config struct {
	Project struct {
		ID       string `yaml:"id"`
		Currency string `yaml:"currency"`
		// Value is a flat project-value override, used only when no
		// itemized package table is present.
		Value int64 `yaml:"value"`
	} `yaml:"project"`
	Limit struct {
		Percent float64 `yaml:"percent"`
	} `yaml:"limit"`
	Targets struct {
		// Accepted is the PCR target set counted in the
		// "PCR to other" pipeline; varies by deployment revision.
		Accepted []string `yaml:"accepted"`
	} `yaml:"targets"`
	Packages []Package `yaml:"packages"`
}

// Package is one work-package lot with its contract value.
type Package struct {
	Code          string `yaml:"code"`
	Name          string `yaml:"name"`
	ContractValue int64  `yaml:"contract_value"`
}

var knownTargets = map[string]bool{
	domain.TargetEI:   true,
	domain.TargetCO:   true,
	domain.TargetVOS:  true,
	domain.TargetAA:   true,
	domain.TargetTBC:  true,
	domain.TargetEICO: true,
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate with cb init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Limit.Percent < 0 || c.Limit.Percent > 100 {
		return fmt.Errorf("config.limit.percent must be within 0-100")
	}
	if c.Project.Value < 0 {
		return fmt.Errorf("config.project.value must not be negative")
	}
	seen := map[string]bool{}
	for _, p := range c.Packages {
		if p.Code == "" {
			return fmt.Errorf("config.packages contains empty code")
		}
		if seen[p.Code] {
			return fmt.Errorf("config.packages has duplicate code %s", p.Code)
		}
		seen[p.Code] = true
		if p.ContractValue < 0 {
			return fmt.Errorf("package %s contract_value must not be negative", p.Code)
		}
	}
	for _, t := range c.Targets.Accepted {
		if t == "" {
			return fmt.Errorf("config.targets.accepted contains empty target")
		}
		if !knownTargets[t] {
			return fmt.Errorf("config.targets.accepted has unknown target %s", t)
		}
	}
	return nil
}

// TotalProjectValue is the itemized per-package sum when a package
// table exists, otherwise the flat project value.
func (c *Config) TotalProjectValue() int64 {
	if len(c.Packages) == 0 {
		return c.Project.Value
	}
	var sum int64
	for _, p := range c.Packages {
		sum += p.ContractValue
	}
	return sum
}

// LimitPercent is the configured change threshold, defaulting to 10.
func (c *Config) LimitPercent() float64 {
	if c.Limit.Percent == 0 {
		return 10
	}
	return c.Limit.Percent
}

// AcceptedTargets is the PCR-to-other target set, defaulting to
// CO/VOS/AA.
func (c *Config) AcceptedTargets() []string {
	if len(c.Targets.Accepted) == 0 {
		return []string{domain.TargetCO, domain.TargetVOS, domain.TargetAA}
	}
	return c.Targets.Accepted
}

// PackageCodes lists the configured work-package codes in table order.
func (c *Config) PackageCodes() []string {
	codes := make([]string, 0, len(c.Packages))
	for _, p := range c.Packages {
		codes = append(codes, p.Code)
	}
	return codes
}

// KnownPackage reports whether code appears in the package table. An
// empty table accepts any code.
func (c *Config) KnownPackage(code string) bool {
	if len(c.Packages) == 0 {
		return true
	}
	for _, p := range c.Packages {
		if p.Code == code {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "changeboard.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, projectID)), &cfg)
	cfg.Project.ID = projectID
	return &cfg
}

const defaultTemplate = `project:
  id: %s
  currency: USD

limit:
  percent: 10

targets:
  accepted: [CO, VOS, AA]

packages:
  - { code: A, name: "Marine & Dredging Works", contract_value: 96000000 }
  - { code: B, name: "Quay Wall & Revetments", contract_value: 74000000 }
  - { code: C, name: "Terminal Buildings", contract_value: 58000000 }
  - { code: D, name: "Utilities & Drainage", contract_value: 41000000 }
  - { code: E, name: "Roads & Pavements", contract_value: 47000000 }
  - { code: F, name: "Rail Connection", contract_value: 63000000 }
  - { code: G, name: "Electrical & SCADA", contract_value: 52000000 }
  - { code: H, name: "Fire & Safety Systems", contract_value: 33000000 }
  - { code: J, name: "Landscaping & Ancillary", contract_value: 36000000 }
`
