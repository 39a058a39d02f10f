package playbook

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// fqcnSegment validates the namespace and collection segments: lowercase
// letters, digits, underscore, leading letter or underscore. The resource
// name is not checked against it.
var fqcnSegment = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// FQCN is a parsed namespace.collection.name reference.
type FQCN struct {
	Namespace  string
	Collection string
	Name       string
}

func (f FQCN) String() string { return f.Namespace + "." + f.Collection + "." + f.Name }

// CollectionFQN returns "namespace.collection" without the resource name.
func (f FQCN) CollectionFQN() string { return f.Namespace + "." + f.Collection }

// IsBuiltin reports whether f names the ansible.builtin collection.
func (f FQCN) IsBuiltin() bool { return f.Namespace == "ansible" && f.Collection == "builtin" }

// ParseFQCN parses a three-or-more dot-segment fully qualified collection
// name. Extra segments beyond the third are folded back into Name (joined
// with '.').
func ParseFQCN(s string) (FQCN, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return FQCN{}, fmt.Errorf("empty FQCN")
	}
	parts := strings.Split(s, ".")
	if len(parts) < 3 {
		return FQCN{}, fmt.Errorf("FQCN %q needs at least 3 dot-segments (namespace.collection.resource)", s)
	}
	f := FQCN{Namespace: parts[0], Collection: parts[1], Name: strings.Join(parts[2:], ".")}
	if !fqcnSegment.MatchString(f.Namespace) {
		return FQCN{}, fmt.Errorf("FQCN %q: invalid namespace %q", s, f.Namespace)
	}
	if !fqcnSegment.MatchString(f.Collection) {
		return FQCN{}, fmt.Errorf("FQCN %q: invalid collection %q", s, f.Collection)
	}
	return f, nil
}

// ResolveModuleRef resolves a bare module reference to an FQCN: references
// already containing a '.' are parsed as FQCNs; short names resolve under
// defaultCollection (or ansible.builtin if unset).
func ResolveModuleRef(ref string, defaultCollection string) (FQCN, error) {
	if strings.Contains(ref, ".") {
		return ParseFQCN(ref)
	}
	if defaultCollection == "" {
		return FQCN{Namespace: "ansible", Collection: "builtin", Name: ref}, nil
	}
	nsColl := strings.SplitN(defaultCollection, ".", 2)
	if len(nsColl) != 2 {
		return FQCN{Namespace: "ansible", Collection: "builtin", Name: ref}, nil
	}
	return FQCN{Namespace: nsColl[0], Collection: nsColl[1], Name: ref}, nil
}

// GalaxyMetadata is the parsed contents of a collection's galaxy.yml
//.
type GalaxyMetadata struct {
	Namespace       string            `yaml:"namespace"`
	Name            string            `yaml:"name"`
	Version         string            `yaml:"version"`
	Description     string            `yaml:"description"`
	Authors         []string          `yaml:"authors"`
	License         string            `yaml:"license"`
	Tags            []string          `yaml:"tags"`
	Dependencies    map[string]string `yaml:"dependencies"`
	RequiresAnsible string            `yaml:"requires_ansible"`
}

// FQN returns "namespace.name" for this collection.
func (m GalaxyMetadata) FQN() string { return m.Namespace + "." + m.Name }

// LoadGalaxyMetadata reads and validates a galaxy.yml file.
func LoadGalaxyMetadata(path string) (*GalaxyMetadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("galaxy metadata: read %s: %w", path, err)
	}
	var m GalaxyMetadata
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("galaxy metadata: parse %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("galaxy metadata: %s: %w", path, err)
	}
	return &m, nil
}

// Validate enforces the required galaxy.yml fields.
func (m GalaxyMetadata) Validate() error {
	if m.Namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if !parseVersionTriple(m.Version).ok {
		return fmt.Errorf("invalid version %q", m.Version)
	}
	return nil
}

// DependencyGraph tracks each known collection's declared dependencies plus
// its resolved installed version, and detects cycles before resolution.
type DependencyGraph struct {
	dependencies map[string]map[string]string // collection -> dep FQN -> constraint string
	resolved     map[string]string
}

// NewDependencyGraph returns an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{dependencies: map[string]map[string]string{}, resolved: map[string]string{}}
}

// AddCollection registers collection's dependencies and resolved version.
func (g *DependencyGraph) AddCollection(meta GalaxyMetadata) {
	g.dependencies[meta.FQN()] = meta.Dependencies
	g.resolved[meta.FQN()] = meta.Version
}

// Resolve validates every dependency's constraint against the resolved
// version of its target, after confirming the dependency graph is acyclic.
func (g *DependencyGraph) Resolve() ([]string, error) {
	if cyclePath, ok := g.findCycle(); ok {
		return nil, &DependencyCycleError{Path: cyclePath}
	}
	var unmet []string
	names := make([]string, 0, len(g.dependencies))
	for name := range g.dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		deps := g.dependencies[name]
		depNames := make([]string, 0, len(deps))
		for dep := range deps {
			depNames = append(depNames, dep)
		}
		sort.Strings(depNames)
		for _, dep := range depNames {
			constraintStr := deps[dep]
			resolvedVersion, ok := g.resolved[dep]
			if !ok {
				unmet = append(unmet, fmt.Sprintf("%s requires %s (not installed)", name, dep))
				continue
			}
			constraint, err := ParseConstraint(constraintStr)
			if err != nil {
				return nil, fmt.Errorf("%s: dependency %s: %w", name, dep, err)
			}
			if !constraint.Matches(resolvedVersion) {
				unmet = append(unmet, fmt.Sprintf("%s requires %s %s but %s is installed", name, dep, constraintStr, resolvedVersion))
			}
		}
	}
	if len(unmet) > 0 {
		return nil, fmt.Errorf("unmet collection dependencies: %s", strings.Join(unmet, "; "))
	}
	return names, nil
}

func (g *DependencyGraph) findCycle() ([]string, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var path []string
	var visit func(name string) ([]string, bool)
	visit = func(name string) ([]string, bool) {
		color[name] = gray
		path = append(path, name)
		deps := g.dependencies[name]
		depNames := make([]string, 0, len(deps))
		for dep := range deps {
			depNames = append(depNames, dep)
		}
		sort.Strings(depNames)
		for _, dep := range depNames {
			switch color[dep] {
			case white:
				if p, found := visit(dep); found {
					return p, true
				}
			case gray:
				return append(append([]string{}, path...), dep), true
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		return nil, false
	}
	names := make([]string, 0, len(g.dependencies))
	for name := range g.dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if color[name] == white {
			if p, found := visit(name); found {
				return p, true
			}
		}
	}
	return nil, false
}
