// Package bundle loads and validates product bundles.
//
// A bundle is a tar.gz archive carrying a config.yaml definition (config.yml
// is accepted too) plus any scripts the job runner needs. The definition is
// a YAML list of prototype documents:
//
//   - exactly one cluster or provider document, which names the bundle
//   - service documents with nested components (cluster bundles)
//   - host documents (provider bundles)
//
// Upgrade specifications hang off the cluster or provider document.
package bundle

import "errors"

const (
	// MaxBundleSize is the maximum allowed bundle size (10 MiB).
	MaxBundleSize = 10 * 1024 * 1024

	// DefinitionFile is the bundle definition file name.
	DefinitionFile = "config.yaml"

	// DefinitionFileAlt is the alternative bundle definition file name.
	DefinitionFileAlt = "config.yml"

	// DefaultEdition is the edition of bundles that do not declare one.
	DefaultEdition = "community"
)

// Common bundle errors.
var (
	// ErrBundleTooLarge indicates the bundle exceeds the size limit.
	ErrBundleTooLarge = errors.New("bundle exceeds 10 MiB size limit")

	// ErrInvalidFormat indicates the bundle is not a valid gzip tar archive.
	ErrInvalidFormat = errors.New("bundle is not a valid gzip tar archive")

	// ErrEmptyBundle indicates the bundle contains no files.
	ErrEmptyBundle = errors.New("bundle contains no files")

	// ErrMissingDefinition indicates the archive has no config.yaml.
	ErrMissingDefinition = errors.New("bundle is missing config.yaml")

	// ErrInvalidYAML indicates the definition is not valid YAML.
	ErrInvalidYAML = errors.New("config.yaml contains invalid YAML")

	// ErrInvalidDefinition indicates the definition is well-formed YAML but breaks a bundle rule.
	ErrInvalidDefinition = errors.New("invalid bundle definition")
)

// Document is one prototype document of a bundle definition.
type Document struct {
	// Type is cluster, service, provider or host
	Type string `yaml:"type" validate:"required,oneof=cluster service provider host"`

	// Name is the prototype name
	Name string `yaml:"name" validate:"required,max=255"`

	// Version is the prototype version (RPM ordering)
	Version string `yaml:"version" validate:"required,version"`

	// Edition is the bundle edition (cluster and provider documents only)
	Edition string `yaml:"edition,omitempty" validate:"omitempty,max=64"`

	// AllowMaintenanceMode enables host maintenance mode (cluster documents only)
	AllowMaintenanceMode bool `yaml:"allow_maintenance_mode,omitempty"`

	// Requires lists required services and components (service documents only)
	Requires []RequireDef `yaml:"requires,omitempty" validate:"dive"`

	// Import lists import declarations (cluster and service documents)
	Import []ImportDef `yaml:"import,omitempty" validate:"dive"`

	// Export lists exported config groups (cluster and service documents)
	Export []string `yaml:"export,omitempty" validate:"dive,required"`

	// Config holds default configuration values
	Config map[string]any `yaml:"config,omitempty"`

	// Components maps component names to definitions (service documents only)
	Components map[string]ComponentDef `yaml:"components,omitempty" validate:"dive"`

	// Upgrade lists upgrades to this bundle (cluster and provider documents only)
	Upgrade []UpgradeDef `yaml:"upgrade,omitempty" validate:"dive"`
}

// ComponentDef is a component of a service document.
type ComponentDef struct {
	// Requires lists required services and components
	Requires []RequireDef `yaml:"requires,omitempty" validate:"dive"`

	// Config holds default configuration values
	Config map[string]any `yaml:"config,omitempty"`
}

// RequireDef is one requires entry. A component requirement without a
// service refers to a component of the declaring service.
type RequireDef struct {
	Service   string `yaml:"service,omitempty"`
	Component string `yaml:"component,omitempty" validate:"required_without=Service"`
}

// VersionsDef is a version range. Each side is either inclusive (min, max)
// or strict (min_strict, max_strict), never both.
type VersionsDef struct {
	Min       string `yaml:"min,omitempty" validate:"excluded_with=MinStrict"`
	Max       string `yaml:"max,omitempty" validate:"excluded_with=MaxStrict"`
	MinStrict string `yaml:"min_strict,omitempty"`
	MaxStrict string `yaml:"max_strict,omitempty"`
}

// ImportDef is an import declaration.
type ImportDef struct {
	// Name is the exporter prototype name
	Name string `yaml:"name" validate:"required"`

	// Versions is the accepted exporter version range
	Versions VersionsDef `yaml:"versions,omitempty"`

	// Required marks an import the importer cannot work without
	Required bool `yaml:"required,omitempty"`
}

// UpgradeDef is an upgrade specification.
type UpgradeDef struct {
	// Name is the human-readable upgrade name
	Name string `yaml:"name" validate:"required"`

	// Versions is the accepted source version range; both sides are required
	Versions VersionsDef `yaml:"versions"`

	// FromEdition is the allow-list of source editions (empty = any)
	FromEdition []string `yaml:"from_edition,omitempty" validate:"dive,required"`

	// States holds the state constraints of the upgrade
	States StatesDef `yaml:"states,omitempty"`

	// Action is the action that performs the upgrade (optional)
	Action *ActionDef `yaml:"action,omitempty"`
}

// StatesDef holds the state constraints of an upgrade.
type StatesDef struct {
	// Available lists the states the upgrade starts from; "any" or empty accepts all
	Available StateList `yaml:"available,omitempty"`

	// OnSuccess is applied once the upgrade commits
	OnSuccess string `yaml:"on_success,omitempty"`
}

// ActionDef is the action bound to an upgrade.
type ActionDef struct {
	// Name is the action name passed to the job runner
	Name string `yaml:"name" validate:"required"`

	// HostComponentACL is the host-component template the action may change
	HostComponentACL []HostComponentACL `yaml:"hc_acl,omitempty" validate:"dive"`
}

// HostComponentACL is one entry of an action host-component template.
type HostComponentACL struct {
	Service   string `yaml:"service" validate:"required"`
	Component string `yaml:"component" validate:"required"`
	Action    string `yaml:"action" validate:"required,oneof=add remove"`
}

// ValidationResult holds the result of archive validation.
type ValidationResult struct {
	// Valid indicates if the bundle passed all validations.
	Valid bool

	// Error contains the validation error if Valid is false.
	Error error

	// Files is the list of files found in the bundle.
	Files []string

	// Size is the total uncompressed size of the bundle in bytes.
	Size int64

	// Definition is the raw definition file content.
	Definition []byte
}
