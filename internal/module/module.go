// Package module enumerates the resource modules that can be synchronized and
// the order in which they must run.
package module

import (
	"fmt"
	"slices"
	"strings"

	"github.com/livinlefevreloca/catalogsync/internal/platform"
)

// Module is one synchronizable resource kind
type Module int

const (
	ProductType Module = iota
	Type
	Category
	Product
	InventoryEntry
)

// AllName selects every module
const AllName = "all"

type descriptor struct {
	name       string
	alias      string
	checkpoint string
	resource   platform.ResourceType
	deps       []Module
	selfRef    bool
}

// order lists modules leaves first; every module's dependencies precede it.
var order = []Module{ProductType, Type, Category, Product, InventoryEntry}

var descriptors = map[Module]descriptor{
	ProductType: {
		name:       "productType",
		alias:      "productTypes",
		checkpoint: "productTypeSync",
		resource:   platform.ProductTypes,
	},
	Type: {
		name:       "type",
		alias:      "types",
		checkpoint: "typeSync",
		resource:   platform.Types,
	},
	Category: {
		name:       "category",
		alias:      "categories",
		checkpoint: "categorySync",
		resource:   platform.Categories,
		deps:       []Module{Type},
		selfRef:    true,
	},
	Product: {
		name:       "product",
		alias:      "products",
		checkpoint: "productSync",
		resource:   platform.Products,
		deps:       []Module{ProductType, Category, Type},
	},
	InventoryEntry: {
		name:       "inventoryEntry",
		alias:      "inventoryEntries",
		checkpoint: "inventoryEntrySync",
		resource:   platform.InventoryEntries,
		deps:       []Module{Type},
	},
}

// String returns the canonical module name
func (m Module) String() string {
	if d, ok := descriptors[m]; ok {
		return d.name
	}
	return fmt.Sprintf("module(%d)", int(m))
}

// CheckpointName is the name the module's sync checkpoint is stored under
func (m Module) CheckpointName() string {
	return descriptors[m].checkpoint
}

// ResourceType is the platform resource type the module synchronizes
func (m Module) ResourceType() platform.ResourceType {
	return descriptors[m].resource
}

// Plural returns the plural name, which Parse also accepts
func (m Module) Plural() string {
	return descriptors[m].alias
}

// Dependencies returns the modules that must be synchronized before m
func (m Module) Dependencies() []Module {
	return slices.Clone(descriptors[m].deps)
}

// SelfReferencing reports whether resources of m may reference each other
func (m Module) SelfReferencing() bool {
	return descriptors[m].selfRef
}

// ReferenceTypes lists the resource types m's resources may reference
func (m Module) ReferenceTypes() []platform.ResourceType {
	d := descriptors[m]
	types := make([]platform.ResourceType, 0, len(d.deps)+1)
	for _, dep := range d.deps {
		types = append(types, dep.ResourceType())
	}
	if d.selfRef {
		types = append(types, d.resource)
	}
	return types
}

// Valid reports whether m is a known module
func (m Module) Valid() bool {
	_, ok := descriptors[m]
	return ok
}

// All returns every module in dependency order
func All() []Module {
	return slices.Clone(order)
}

// Names returns the canonical names of every module in dependency order
func Names() []string {
	names := make([]string, len(order))
	for i, m := range order {
		names[i] = m.String()
	}
	return names
}

// Parse resolves a module by canonical name or plural alias
func Parse(name string) (Module, error) {
	name = strings.TrimSpace(name)
	for _, m := range order {
		d := descriptors[m]
		if name == d.name || name == d.alias {
			return m, nil
		}
	}
	return 0, &UsageError{Unknown: []string{name}}
}

// Resolve turns requested names into a duplicate-free list in dependency
// order. AllName anywhere in the list selects every module. Every unknown
// name is reported in a single *UsageError.
func Resolve(names []string) ([]Module, error) {
	if len(names) == 0 {
		return nil, &UsageError{Message: "no modules requested"}
	}

	selected := make(map[Module]bool)
	var unknown []string
	all := false

	for _, name := range names {
		if strings.TrimSpace(name) == AllName {
			all = true
			continue
		}
		m, err := Parse(name)
		if err != nil {
			unknown = append(unknown, name)
			continue
		}
		selected[m] = true
	}

	if len(unknown) > 0 {
		return nil, &UsageError{Unknown: unknown}
	}
	if all {
		return All(), nil
	}

	resolved := make([]Module, 0, len(selected))
	for _, m := range order {
		if selected[m] {
			resolved = append(resolved, m)
		}
	}
	return resolved, nil
}
