package upgrade

import (
	"context"
	"errors"
	"fmt"

	"github.com/yaroslav/stackform/internal/metrics"
	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/models"
	"github.com/yaroslav/stackform/pkg/version"
)

// plan is everything a run needs to know about one object and one upgrade.
type plan struct {
	object    *models.Entity
	upgrade   *models.Upgrade
	oldProto  *models.Prototype
	oldBundle *models.Bundle
	newProto  *models.Prototype
	newBundle *models.Bundle

	// prune holds import bindings the target bundle no longer declares
	prune []*models.ClusterBind

	// previous holds the snapshots replaced by this run
	previous map[models.Ref]*models.UpgradeSnapshot
}

// load resolves the object, its current and target prototypes and the upgrade.
func load(ctx context.Context, st *store.Store, ref models.Ref, upgradeID string) (*plan, error) {
	if ref.Kind != models.KindCluster && ref.Kind != models.KindProvider {
		return nil, models.NewUpgradeError(models.ErrUpgradeTargetType,
			fmt.Sprintf("can upgrade only cluster or provider, not %s", ref.Kind))
	}

	obj, err := st.GetEntity(ctx, ref)
	if err != nil {
		return nil, err
	}
	up, err := st.GetUpgrade(ctx, upgradeID)
	if err != nil {
		return nil, err
	}

	p := &plan{object: obj, upgrade: up}
	if p.oldProto, err = st.GetPrototype(ctx, obj.PrototypeID); err != nil {
		return nil, err
	}
	if p.oldBundle, err = st.GetBundle(ctx, p.oldProto.BundleID); err != nil {
		return nil, err
	}
	if p.newBundle, err = st.GetBundle(ctx, up.BundleID); err != nil {
		return nil, err
	}

	roots, err := st.ListPrototypes(ctx, up.BundleID, ref.Kind)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return nil, models.NewUpgradeError(models.ErrUpgradeTargetType,
			fmt.Sprintf("bundle %s %s has no %s prototype", p.newBundle.Name, p.newBundle.Version, ref.Kind))
	}
	p.newProto = roots[0]
	return p, nil
}

// rule is one validation step. Rules run in order and stop at the first failure.
type rule struct {
	name  string
	check func(ctx context.Context, o *Orchestrator, st *store.Store, p *plan) error
}

var rules = []rule{
	{"locked", checkLocked},
	{"version", checkVersion},
	{"edition", checkEdition},
	{"state", checkState},
	{"import", checkImports},
	{"export", checkExports},
}

// validate runs every rule. It writes nothing; bindings to prune are only
// recorded on the plan.
func (o *Orchestrator) validate(ctx context.Context, st *store.Store, p *plan) error {
	for _, r := range rules {
		if err := r.check(ctx, o, st, p); err != nil {
			var uerr *models.UpgradeError
			if errors.As(err, &uerr) {
				metrics.UpgradeRejections.WithLabelValues(r.name).Inc()
			}
			return err
		}
	}
	return nil
}

func checkLocked(ctx context.Context, o *Orchestrator, st *store.Store, p *plan) error {
	names, err := o.concerns.Tx(st).BlockingNames(ctx, p.object.Ref())
	if err != nil {
		return err
	}
	if len(names) > 0 {
		return models.NewUpgradeError(models.ErrUpgradeLocked,
			fmt.Sprintf("%s %q has blocking concerns to address: %v", p.object.Kind, p.object.Name, names))
	}
	return nil
}

func checkVersion(ctx context.Context, o *Orchestrator, st *store.Store, p *plan) error {
	return versionError(p.oldProto, p.upgrade)
}

// versionError reports whether the prototype version is outside the upgrade range.
func versionError(proto *models.Prototype, up *models.Upgrade) error {
	r := version.Range{Min: up.MinVersion, Max: up.MaxVersion, MinStrict: up.MinStrict, MaxStrict: up.MaxStrict}

	var reason string
	switch r.Check(proto.Version) {
	case version.BoundMin:
		if up.MinStrict {
			reason = "%s version %s is less than or equal to upgrade min version %s"
		} else {
			reason = "%s version %s is less than upgrade min version %s"
		}
		return models.NewUpgradeError(models.ErrUpgradeVersion, fmt.Sprintf(reason, proto.Type, proto.Version, up.MinVersion))
	case version.BoundMax:
		if up.MaxStrict {
			reason = "%s version %s is more than or equal to upgrade max version %s"
		} else {
			reason = "%s version %s is more than upgrade max version %s"
		}
		return models.NewUpgradeError(models.ErrUpgradeVersion, fmt.Sprintf(reason, proto.Type, proto.Version, up.MaxVersion))
	}
	return nil
}

func checkEdition(ctx context.Context, o *Orchestrator, st *store.Store, p *plan) error {
	return editionError(p.oldBundle, p.upgrade)
}

func editionError(b *models.Bundle, up *models.Upgrade) error {
	if len(up.FromEdition) == 0 {
		return nil
	}
	for _, e := range up.FromEdition {
		if e == b.Edition {
			return nil
		}
	}
	return models.NewUpgradeError(models.ErrUpgradeEdition,
		fmt.Sprintf("bundle edition %q is not in upgrade list: %v", b.Edition, up.FromEdition))
}

func checkState(ctx context.Context, o *Orchestrator, st *store.Store, p *plan) error {
	if p.upgrade.Allowed(p.object.State) {
		return nil
	}
	return models.NewUpgradeError(models.ErrUpgradeState,
		fmt.Sprintf("%s state %q is not in upgrade available states %v", p.object.Kind, p.object.State, p.upgrade.StateAvailable))
}

// checkImports verifies the cluster's import bindings against the target
// bundle and records bindings to prune.
func checkImports(ctx context.Context, o *Orchestrator, st *store.Store, p *plan) error {
	prune, err := importPlan(ctx, st, p)
	if err != nil {
		return err
	}
	p.prune = prune
	return nil
}

// checkExports verifies that every consumer importing from the cluster can
// still import from it after the upgrade.
func checkExports(ctx context.Context, o *Orchestrator, st *store.Store, p *plan) error {
	return exportError(ctx, st, p)
}

func importPlan(ctx context.Context, st *store.Store, p *plan) ([]*models.ClusterBind, error) {
	if p.object.Kind != models.KindCluster {
		return nil, nil
	}

	imported, err := st.ListBindsByImporter(ctx, p.object.ID)
	if err != nil {
		return nil, err
	}

	var prune []*models.ClusterBind
	for _, b := range imported {
		importer, importerProto, err := entityWithPrototype(ctx, st, b.Importer())
		if err != nil {
			return nil, err
		}
		exporter, exporterProto, err := entityWithPrototype(ctx, st, b.Exporter())
		if err != nil {
			return nil, err
		}

		next, err := st.FindPrototype(ctx, p.newBundle.ID, importerProto.Type, importerProto.Name, "")
		if errors.Is(err, models.ErrPrototypeNotFound) {
			return nil, models.NewUpgradeError(models.ErrUpgradeImportIncompatible,
				fmt.Sprintf("upgrade does not have new version of %s %q required for import", importerProto.Type, importerProto.Name))
		}
		if err != nil {
			return nil, err
		}

		imp, ok := findImport(next, exporterProto.Name)
		if !ok {
			prune = append(prune, b)
			continue
		}
		if !importRange(imp).Contains(exporterProto.Version) {
			return nil, models.NewUpgradeError(models.ErrUpgradeImportIncompatible,
				fmt.Sprintf("import %q of %s %q versions (%s, %s) does not match export version %s of %s %q",
					imp.Name, importer.Kind, importer.Name, imp.MinVersion, imp.MaxVersion,
					exporterProto.Version, exporter.Kind, exporter.Name))
		}
	}
	return prune, nil
}

func exportError(ctx context.Context, st *store.Store, p *plan) error {
	if p.object.Kind != models.KindCluster {
		return nil
	}

	exported, err := st.ListBindsByExporter(ctx, p.object.ID)
	if err != nil {
		return err
	}
	for _, b := range exported {
		_, exporterProto, err := entityWithPrototype(ctx, st, b.Exporter())
		if err != nil {
			return err
		}
		importer, importerProto, err := entityWithPrototype(ctx, st, b.Importer())
		if err != nil {
			return err
		}

		next, err := st.FindPrototype(ctx, p.newBundle.ID, exporterProto.Type, exporterProto.Name, "")
		if errors.Is(err, models.ErrPrototypeNotFound) || (err == nil && len(next.Exports) == 0) {
			return models.NewUpgradeError(models.ErrUpgradeExportIncompatible,
				fmt.Sprintf("upgrade does not have new version of %s %q required for export", exporterProto.Type, exporterProto.Name))
		}
		if err != nil {
			return err
		}

		imp, ok := findImport(importerProto, exporterProto.Name)
		if ok && !importRange(imp).Contains(next.Version) {
			return models.NewUpgradeError(models.ErrUpgradeExportIncompatible,
				fmt.Sprintf("export of %s %q version %s does not match import versions (%s, %s) of %s %q",
					next.Type, next.Name, next.Version, imp.MinVersion, imp.MaxVersion, importer.Kind, importer.Name))
		}
	}
	return nil
}

func entityWithPrototype(ctx context.Context, st *store.Store, ref models.Ref) (*models.Entity, *models.Prototype, error) {
	e, err := st.GetEntity(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	proto, err := st.GetPrototype(ctx, e.PrototypeID)
	if err != nil {
		return nil, nil, err
	}
	return e, proto, nil
}

func findImport(proto *models.Prototype, name string) (models.PrototypeImport, bool) {
	for _, imp := range proto.Imports {
		if imp.Name == name {
			return imp, true
		}
	}
	return models.PrototypeImport{}, false
}

func importRange(imp models.PrototypeImport) version.Range {
	return version.Range{Min: imp.MinVersion, Max: imp.MaxVersion, MinStrict: imp.MinStrict, MaxStrict: imp.MaxStrict}
}
