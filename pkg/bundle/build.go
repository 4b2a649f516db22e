package bundle

import (
	"time"

	"github.com/google/uuid"

	"github.com/yaroslav/stackform/models"
)

// Package is a definition turned into records ready to be stored.
type Package struct {
	Bundle     *models.Bundle
	Prototypes []*models.Prototype
	Upgrades   []*models.Upgrade
}

// Root returns the cluster or provider prototype of the package.
func (p *Package) Root() *models.Prototype {
	for _, proto := range p.Prototypes {
		if proto.Type == models.TypeCluster || proto.Type == models.TypeProvider {
			return proto
		}
	}
	return nil
}

// Build assigns identifiers to the definition and converts it into records.
//
// Component prototypes inherit the version of their service. The bundle takes
// its name, version and edition from the cluster or provider document.
func (d *Definition) Build(now time.Time) *Package {
	edition := d.Root.Edition
	if edition == "" {
		edition = DefaultEdition
	}

	b := &models.Bundle{
		ID:        uuid.New().String(),
		Name:      d.Root.Name,
		Version:   d.Root.Version,
		Edition:   edition,
		CreatedAt: now,
	}

	pkg := &Package{Bundle: b}

	root := newPrototype(b.ID, d.Root)
	root.AllowMaintenanceMode = d.Root.AllowMaintenanceMode
	pkg.Prototypes = append(pkg.Prototypes, root)

	for _, svc := range d.Services {
		sp := newPrototype(b.ID, svc)
		sp.Requires = requirements(svc.Requires)
		pkg.Prototypes = append(pkg.Prototypes, sp)

		for _, name := range sortedComponentNames(svc) {
			comp := svc.Components[name]
			pkg.Prototypes = append(pkg.Prototypes, &models.Prototype{
				ID:       uuid.New().String(),
				BundleID: b.ID,
				Type:     models.TypeComponent,
				Name:     name,
				Version:  svc.Version,
				ParentID: sp.ID,
				Requires: requirements(comp.Requires),
				Config:   comp.Config,
			})
		}
	}

	for _, host := range d.Hosts {
		pkg.Prototypes = append(pkg.Prototypes, newPrototype(b.ID, host))
	}

	for _, up := range d.Root.Upgrade {
		pkg.Upgrades = append(pkg.Upgrades, newUpgrade(b.ID, up))
	}

	return pkg
}

func newPrototype(bundleID string, doc *Document) *models.Prototype {
	p := &models.Prototype{
		ID:       uuid.New().String(),
		BundleID: bundleID,
		Type:     models.PrototypeType(doc.Type),
		Name:     doc.Name,
		Version:  doc.Version,
		Exports:  doc.Export,
		Config:   doc.Config,
	}
	for _, imp := range doc.Import {
		lo, minStrict := bound(imp.Versions.Min, imp.Versions.MinStrict)
		hi, maxStrict := bound(imp.Versions.Max, imp.Versions.MaxStrict)
		p.Imports = append(p.Imports, models.PrototypeImport{
			Name:       imp.Name,
			MinVersion: lo,
			MaxVersion: hi,
			MinStrict:  minStrict,
			MaxStrict:  maxStrict,
			Required:   imp.Required,
		})
	}
	return p
}

func newUpgrade(bundleID string, up UpgradeDef) *models.Upgrade {
	lo, minStrict := bound(up.Versions.Min, up.Versions.MinStrict)
	hi, maxStrict := bound(up.Versions.Max, up.Versions.MaxStrict)

	u := &models.Upgrade{
		ID:             uuid.New().String(),
		BundleID:       bundleID,
		Name:           up.Name,
		MinVersion:     lo,
		MaxVersion:     hi,
		MinStrict:      minStrict,
		MaxStrict:      maxStrict,
		FromEdition:    up.FromEdition,
		StateAvailable: up.States.Available,
		StateOnSuccess: up.States.OnSuccess,
	}

	if up.Action != nil {
		u.Action = &models.Action{Name: up.Action.Name}
		for _, acl := range up.Action.HostComponentACL {
			u.Action.HostComponentMap = append(u.Action.HostComponentMap, models.HostComponentRule{
				Service:   acl.Service,
				Component: acl.Component,
				Action:    acl.Action,
			})
		}
	}
	return u
}

func requirements(reqs []RequireDef) []models.Requirement {
	if len(reqs) == 0 {
		return nil
	}
	out := make([]models.Requirement, len(reqs))
	for i, r := range reqs {
		out[i] = models.Requirement{Service: r.Service, Component: r.Component}
	}
	return out
}

// bound picks the inclusive or strict form of one side of a range.
func bound(inclusive, strict string) (string, bool) {
	if strict != "" {
		return strict, true
	}
	return inclusive, false
}
