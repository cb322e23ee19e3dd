package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"petcare/internal/care"
	"petcare/internal/domain"
)

// Config models petcare.yml.
type Config struct {
	Household struct {
		ID       string `yaml:"id" json:"id" validate:"required"`
		Name     string `yaml:"name,omitempty" json:"name,omitempty"`
		Timezone string `yaml:"timezone" json:"timezone" validate:"required"`
	} `yaml:"household" json:"household"`
	Capabilities struct {
		SeasonalDeck    bool `yaml:"seasonal_deck" json:"seasonal_deck"`
		HighlightPhotos bool `yaml:"highlight_photos" json:"highlight_photos"`
	} `yaml:"capabilities" json:"capabilities"`
	// Thresholds are kept as written; the engine normalizes them on use.
	Thresholds      care.Thresholds `yaml:"inventory_thresholds" json:"inventory_thresholds"`
	AbnormalAnswers []string        `yaml:"abnormal_answers" json:"abnormal_answers" validate:"required,min=1,dive,required"`
	PhotoTags       []string        `yaml:"photo_tags" json:"photo_tags" validate:"dive,required"`
	Subjects        []SubjectConfig `yaml:"subjects,omitempty" json:"subjects,omitempty" validate:"dive"`
	RBAC            struct {
		Roles map[string]RBACRole `yaml:"roles" json:"roles" validate:"dive"`
	} `yaml:"rbac" json:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty" validate:"dive"`
	Logging  LoggingConfig   `yaml:"logging" json:"logging"`
}

type SubjectConfig struct {
	ID      string `yaml:"id" json:"id" validate:"required"`
	Name    string `yaml:"name" json:"name" validate:"required"`
	Species string `yaml:"species,omitempty" json:"species,omitempty"`
}

type RBACRole struct {
	Description string   `yaml:"description" json:"description"`
	Permissions []string `yaml:"permissions" json:"permissions" validate:"dive,required"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url" validate:"required,url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty" validate:"min=0,max=60"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"omitempty,oneof=text json"`
}

// Permissions known to the API and CLI.
const (
	PermHouseholdRead   = "household.read"
	PermHouseholdCreate = "household.create"
	PermHouseholdAdmin  = "household.admin"
	PermSubjectWrite    = "subject.write"
	PermItemRead        = "item.read"
	PermItemWrite       = "item.write"
	PermNoticeRecord    = "notice.record"
	PermInventoryRead   = "inventory.read"
	PermInventoryWrite  = "inventory.write"
	PermMediaWrite      = "media.write"
	PermEventsRead      = "events.read"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with pc config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config validation failed: %s (%s)", strings.ToLower(fe.Namespace()), fe.Tag())
		}
		return fmt.Errorf("config validation failed: %w", err)
	}
	if _, err := time.LoadLocation(c.Household.Timezone); err != nil {
		return fmt.Errorf("config.household.timezone %q: %w", c.Household.Timezone, err)
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["owner"]; !ok {
			return fmt.Errorf("config.rbac.roles must include owner")
		}
		for roleID := range c.RBAC.Roles {
			if strings.TrimSpace(roleID) == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
		}
	}
	seen := map[string]struct{}{}
	for _, s := range c.Subjects {
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("subject %s listed twice", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

// Location returns the household time zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Household.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Options translates the config into engine options.
func (c *Config) Options() care.Options {
	opts := care.DefaultOptions()
	opts.Thresholds = c.Thresholds
	if len(c.AbnormalAnswers) > 0 {
		opts.AbnormalAnswers = append([]string(nil), c.AbnormalAnswers...)
	}
	if len(c.PhotoTags) > 0 {
		opts.PhotoTags = append([]string(nil), c.PhotoTags...)
	}
	opts.Capabilities = care.Capabilities{
		SeasonalDeck:    c.Capabilities.SeasonalDeck,
		HighlightPhotos: c.Capabilities.HighlightPhotos,
	}
	return opts
}

// RolePermissions returns the permissions granted to role.
func (c *Config) RolePermissions(role string) []string {
	r, ok := c.RBAC.Roles[role]
	if !ok {
		return nil
	}
	return r.Permissions
}

// SeedSubjects returns the configured subjects as domain values.
func (c *Config) SeedSubjects() []domain.Subject {
	out := make([]domain.Subject, 0, len(c.Subjects))
	for _, s := range c.Subjects {
		out = append(out, domain.Subject{ID: s.ID, HouseholdID: c.Household.ID, Name: s.Name, Species: s.Species})
	}
	return out
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "petcare.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(householdID string) string {
	return fmt.Sprintf(defaultTemplate, householdID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	if _, err := os.Stat(Path(workspace)); os.IsNotExist(err) {
		return nil, nil
	}
	return Load(workspace)
}

// Default returns the default Config struct for a household.
func Default(householdID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(householdID))).Decode(&cfg)
	cfg.Household.ID = householdID
	return &cfg
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

// ToYAML renders cfg for export.
func (c *Config) ToYAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const defaultTemplate = `household:
  id: %s
  timezone: UTC

capabilities:
  seasonal_deck: false
  highlight_photos: false

inventory_thresholds:
  critical: 1
  urgent: 3
  soon: 7

abnormal_answers: ["slightly off", "concerning", "yes"]
photo_tags: [food, condition, litter box, meal]

rbac:
  roles:
    owner:
      description: "Full control of the household"
      permissions:
        - household.read
        - household.create
        - household.admin
        - subject.write
        - item.read
        - item.write
        - notice.record
        - inventory.read
        - inventory.write
        - media.write
        - events.read
    caregiver:
      description: "Day-to-day care: completes tasks, records notices, restocks"
      permissions:
        - household.read
        - item.read
        - item.write
        - notice.record
        - inventory.read
        - inventory.write
        - media.write
    viewer:
      description: "Read-only access to the queue and digest"
      permissions:
        - household.read
        - item.read
        - inventory.read

logging:
  level: info
  format: text
`
