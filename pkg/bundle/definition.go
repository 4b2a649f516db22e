package bundle

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// definitionValidate is the validator instance for definition documents.
var definitionValidate *validator.Validate

func init() {
	definitionValidate = validator.New()
	_ = definitionValidate.RegisterValidation("version", validateVersion)
}

// validateVersion accepts strings with at least one alphanumeric character and no whitespace.
func validateVersion(fl validator.FieldLevel) bool {
	return isVersion(fl.Field().String())
}

func isVersion(s string) bool {
	alnum := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			return false
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum = true
		}
	}
	return alnum
}

// StateList is a list of states that also accepts a single scalar ("any").
type StateList []string

// UnmarshalYAML accepts both a scalar and a sequence.
func (s *StateList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*s = StateList{value.Value}
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*s = list
	return nil
}

// Definition is a parsed and checked bundle definition.
type Definition struct {
	// Root is the cluster or provider document
	Root *Document

	// Services are the service documents, sorted by name (cluster bundles)
	Services []*Document

	// Hosts are the host documents, sorted by name (provider bundles)
	Hosts []*Document
}

// Parse parses a bundle definition and checks it against the bundle rules.
//
// On success every requires entry carries an explicit service name.
func Parse(data []byte) (*Definition, error) {
	var docs []Document
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	if len(docs) == 0 {
		return nil, invalid("definition has no documents")
	}

	def := &Definition{}
	for i := range docs {
		doc := &docs[i]
		if err := definitionValidate.Struct(doc); err != nil {
			return nil, invalid("document %d: %s", i, describe(err))
		}

		switch doc.Type {
		case "cluster", "provider":
			if def.Root != nil {
				return nil, invalid("definition has more than one cluster or provider (%s, %s)", def.Root.Name, doc.Name)
			}
			def.Root = doc
		case "service":
			def.Services = append(def.Services, doc)
		case "host":
			def.Hosts = append(def.Hosts, doc)
		}
	}

	if def.Root == nil {
		return nil, invalid("definition has no cluster or provider")
	}

	sort.Slice(def.Services, func(i, j int) bool { return def.Services[i].Name < def.Services[j].Name })
	sort.Slice(def.Hosts, func(i, j int) bool { return def.Hosts[i].Name < def.Hosts[j].Name })

	if err := def.check(); err != nil {
		return nil, err
	}
	return def, nil
}

// IsCluster reports whether the definition describes a cluster bundle.
func (d *Definition) IsCluster() bool {
	return d.Root.Type == "cluster"
}

// Service returns the service document with the given name.
func (d *Definition) Service(name string) *Document {
	for _, s := range d.Services {
		if s.Name == name {
			return s
		}
	}
	return nil
}

func (d *Definition) check() error {
	if d.IsCluster() && len(d.Hosts) > 0 {
		return invalid("cluster bundle %q cannot define hosts", d.Root.Name)
	}
	if !d.IsCluster() && len(d.Services) > 0 {
		return invalid("provider bundle %q cannot define services", d.Root.Name)
	}
	if !d.IsCluster() && d.Root.AllowMaintenanceMode {
		return invalid("allow_maintenance_mode is only allowed on clusters")
	}

	for _, doc := range append(append([]*Document{d.Root}, d.Services...), d.Hosts...) {
		if doc != d.Root && (len(doc.Upgrade) > 0 || doc.Edition != "" || doc.AllowMaintenanceMode) {
			return invalid("%s %q: upgrade, edition and allow_maintenance_mode belong to the %s", doc.Type, doc.Name, d.Root.Type)
		}
		if doc.Type != "service" && (len(doc.Requires) > 0 || len(doc.Components) > 0) {
			return invalid("%s %q: only services can declare requires and components", doc.Type, doc.Name)
		}
		if doc.Type == "host" || doc.Type == "provider" {
			if len(doc.Import) > 0 || len(doc.Export) > 0 {
				return invalid("%s %q: only clusters and services can import or export", doc.Type, doc.Name)
			}
		}
		if err := checkImports(doc); err != nil {
			return err
		}
	}

	if err := checkDuplicates(d.Services); err != nil {
		return err
	}
	if err := checkDuplicates(d.Hosts); err != nil {
		return err
	}

	for _, svc := range d.Services {
		if err := d.normalizeRequires(svc.Name, "", svc.Requires); err != nil {
			return err
		}
		for _, name := range sortedComponentNames(svc) {
			if name == "" {
				return invalid("service %q has a component without a name", svc.Name)
			}
			if err := d.normalizeRequires(svc.Name, name, svc.Components[name].Requires); err != nil {
				return err
			}
		}
	}

	for _, up := range d.Root.Upgrade {
		if err := d.checkUpgrade(up); err != nil {
			return err
		}
	}
	return nil
}

// normalizeRequires fills in implicit service names and checks every
// requirement references a service or component defined in the bundle.
func (d *Definition) normalizeRequires(service, component string, reqs []RequireDef) error {
	owner := fmt.Sprintf("service %q", service)
	if component != "" {
		owner = fmt.Sprintf("component %q of service %q", component, service)
	}

	for i := range reqs {
		req := &reqs[i]
		if req.Service == "" {
			req.Service = service
		}

		if req.Service == service && req.Component == component {
			return invalid("%s requires itself", owner)
		}

		target := d.Service(req.Service)
		if target == nil {
			return invalid("%s requires unknown service %q", owner, req.Service)
		}
		if req.Component != "" {
			if _, ok := target.Components[req.Component]; !ok {
				return invalid("%s requires unknown component %q of service %q", owner, req.Component, req.Service)
			}
		}
	}
	return nil
}

func (d *Definition) checkUpgrade(up UpgradeDef) error {
	v := up.Versions
	if v.Min == "" && v.MinStrict == "" {
		return invalid("upgrade %q: versions need min or min_strict", up.Name)
	}
	if v.Max == "" && v.MaxStrict == "" {
		return invalid("upgrade %q: versions need max or max_strict", up.Name)
	}
	if err := checkVersions(v); err != nil {
		return invalid("upgrade %q: %v", up.Name, err)
	}

	if up.Action == nil {
		return nil
	}
	if len(up.Action.HostComponentACL) > 0 && !d.IsCluster() {
		return invalid("upgrade %q: hc_acl is only allowed in cluster bundles", up.Name)
	}
	for _, acl := range up.Action.HostComponentACL {
		svc := d.Service(acl.Service)
		if svc == nil {
			return invalid("upgrade %q: hc_acl references unknown service %q", up.Name, acl.Service)
		}
		if _, ok := svc.Components[acl.Component]; !ok {
			return invalid("upgrade %q: hc_acl references unknown component %q of service %q", up.Name, acl.Component, acl.Service)
		}
	}
	return nil
}

func checkImports(doc *Document) error {
	seen := make(map[string]bool, len(doc.Import))
	for _, imp := range doc.Import {
		if seen[imp.Name] {
			return invalid("%s %q imports %q twice", doc.Type, doc.Name, imp.Name)
		}
		seen[imp.Name] = true
		if err := checkVersions(imp.Versions); err != nil {
			return invalid("%s %q import %q: %v", doc.Type, doc.Name, imp.Name, err)
		}
	}
	return nil
}

func checkVersions(v VersionsDef) error {
	for _, s := range []string{v.Min, v.Max, v.MinStrict, v.MaxStrict} {
		if s != "" && !isVersion(s) {
			return fmt.Errorf("invalid version %q", s)
		}
	}
	return nil
}

func checkDuplicates(docs []*Document) error {
	for i := 1; i < len(docs); i++ {
		if docs[i].Name == docs[i-1].Name {
			return invalid("%s %q is defined twice", docs[i].Type, docs[i].Name)
		}
	}
	return nil
}

func sortedComponentNames(doc *Document) []string {
	names := make([]string, 0, len(doc.Components))
	for name := range doc.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// describe renders validator errors as "Field: tag" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDefinition, fmt.Sprintf(format, args...))
}
