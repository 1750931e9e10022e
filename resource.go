package agewatch

import (
	"fmt"
	"strings"
)

// Resource names one of the monitored host resources.
type Resource string

const (
	ResourceCPU  Resource = "CPU"
	ResourceMem  Resource = "Mem"
	ResourceDisk Resource = "Disk"
)

// AllResources lists every resource in sink column order.
var AllResources = []Resource{ResourceCPU, ResourceMem, ResourceDisk}

// ParseResource resolves a resource name case-insensitively.
// "memory" is accepted as an alias of Mem.
func ParseResource(name string) (Resource, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cpu":
		return ResourceCPU, nil
	case "mem", "memory":
		return ResourceMem, nil
	case "disk":
		return ResourceDisk, nil
	}
	return "", newConfigError("resource", fmt.Sprintf("%q is not one of CPU, Mem, Disk", name), nil)
}

// ResourceSelector is the set of resources used as forecasting targets.
// All resources are always sampled; the selector only narrows the targets.
type ResourceSelector struct {
	set map[Resource]struct{}
}

// NewResourceSelector builds a selector from resource names.
// An empty list selects every resource.
func NewResourceSelector(names ...string) (ResourceSelector, error) {
	sel := ResourceSelector{set: make(map[Resource]struct{}, len(AllResources))}
	if len(names) == 0 {
		for _, r := range AllResources {
			sel.set[r] = struct{}{}
		}
		return sel, nil
	}
	for _, n := range names {
		// "CPU,Mem" in one argument is split as well
		for _, part := range strings.Split(n, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			r, err := ParseResource(part)
			if err != nil {
				return ResourceSelector{}, err
			}
			sel.set[r] = struct{}{}
		}
	}
	if len(sel.set) == 0 {
		return ResourceSelector{}, newConfigError("resources", "at least one resource must be selected", nil)
	}
	return sel, nil
}

// Contains reports whether r is a target.
func (s ResourceSelector) Contains(r Resource) bool {
	_, ok := s.set[r]
	return ok
}

// Resources returns the selected resources in sink column order.
func (s ResourceSelector) Resources() []Resource {
	out := make([]Resource, 0, len(s.set))
	for _, r := range AllResources {
		if s.Contains(r) {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of selected resources.
func (s ResourceSelector) Len() int {
	return len(s.set)
}

func (s ResourceSelector) String() string {
	rs := s.Resources()
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}
