// dependency_graph.go: dependency forest construction, cycle detection and load ordering
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

// HostEnvironment is what every plugin in a tree is validated against.
type HostEnvironment struct {
	SchemaVersion int
	Runtime       Runtime
}

// DefaultHostEnvironment returns the environment of this process.
func DefaultHostEnvironment(hostVersion string) HostEnvironment {
	return HostEnvironment{
		SchemaVersion: HostSchemaVersion,
		Runtime:       CurrentRuntime(hostVersion),
	}
}

// PluginNode is one plugin inside a PluginTree.
//
// Edges run from a dependency to its dependents: the children of a node are
// the plugins that declare it (hard or optional) as a dependency.
type PluginNode struct {
	descriptor   *PluginDescriptor
	children     []*PluginNode
	dependencies []*PluginNode
}

// Name returns the plugin name.
func (n *PluginNode) Name() string {
	return n.descriptor.Name()
}

// Descriptor returns the plugin descriptor.
func (n *PluginNode) Descriptor() *PluginDescriptor {
	return n.descriptor
}

// Children returns the nodes that depend on this node.
func (n *PluginNode) Children() []*PluginNode {
	return append([]*PluginNode(nil), n.children...)
}

// Dependencies returns the nodes this node depends on, hard and optional,
// restricted to plugins present in the tree.
func (n *PluginNode) Dependencies() []*PluginNode {
	return append([]*PluginNode(nil), n.dependencies...)
}

// PluginTree is a validated, acyclic dependency forest.
type PluginTree struct {
	nodes []*PluginNode
	index map[string]*PluginNode
	roots []*PluginNode
}

// BuildPluginTree validates descriptors against env and links them into a forest.
//
// The build fails when a name is duplicated, when a descriptor targets another
// schema version or its condition does not hold, when a hard dependency is
// missing from the set, or when the dependency relation contains a cycle.
// Iteration follows the input order so results are deterministic.
func BuildPluginTree(descriptors []*PluginDescriptor, env HostEnvironment) (*PluginTree, error) {
	tree := &PluginTree{
		nodes: make([]*PluginNode, 0, len(descriptors)),
		index: make(map[string]*PluginNode, len(descriptors)),
	}

	for _, descriptor := range descriptors {
		name := descriptor.Name()
		if _, exists := tree.index[name]; exists {
			return nil, NewDuplicatePluginError(name)
		}
		if descriptor.SchemaVersion != env.SchemaVersion {
			return nil, NewSchemaIncompatibleError(name, descriptor.SchemaVersion, env.SchemaVersion)
		}
		if check := descriptor.Condition.Check(env.Runtime); !check.IsOK() {
			return nil, NewPluginConditionFailedError(name, check)
		}
		node := &PluginNode{descriptor: descriptor}
		tree.nodes = append(tree.nodes, node)
		tree.index[name] = node
	}

	for _, node := range tree.nodes {
		for _, dep := range node.descriptor.Dependencies {
			if _, ok := tree.index[dep.Name]; !ok {
				return nil, NewPluginNotInstallableError(node.Name(), dep.Name)
			}
		}
	}

	for _, node := range tree.nodes {
		for _, name := range append(node.descriptor.DependencyNames(), node.descriptor.OptionalDependencyNames()...) {
			parent, ok := tree.index[name]
			if !ok || containsNode(node.dependencies, parent) {
				continue
			}
			node.dependencies = append(node.dependencies, parent)
			parent.children = append(parent.children, node)
		}
	}

	if err := tree.checkMutualDependencies(); err != nil {
		return nil, err
	}
	if err := tree.checkCycles(); err != nil {
		return nil, err
	}

	for _, node := range tree.nodes {
		if len(node.dependencies) == 0 {
			tree.roots = append(tree.roots, node)
		}
	}
	return tree, nil
}

func containsNode(nodes []*PluginNode, target *PluginNode) bool {
	for _, n := range nodes {
		if n == target {
			return true
		}
	}
	return false
}

// checkMutualDependencies reports X <-> Y pairs with both names.
func (t *PluginTree) checkMutualDependencies() error {
	for _, node := range t.nodes {
		for _, dep := range node.dependencies {
			if containsNode(dep.dependencies, node) {
				return NewCircularDependencyError(node.Name(), dep.Name(),
					[]string{node.Name(), dep.Name(), node.Name()})
			}
		}
	}
	return nil
}

// checkCycles runs a three-colour DFS over dependency edges and reports the
// first back edge together with the cycle path it closes.
func (t *PluginTree) checkCycles() error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[*PluginNode]int, len(t.nodes))
	var stack []*PluginNode

	var visit func(node *PluginNode) error
	visit = func(node *PluginNode) error {
		color[node] = grey
		stack = append(stack, node)
		for _, dep := range node.dependencies {
			switch color[dep] {
			case grey:
				return NewCircularDependencyError(node.Name(), dep.Name(), cyclePath(stack, dep))
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[node] = black
		return nil
	}

	for _, node := range t.nodes {
		if color[node] == white {
			if err := visit(node); err != nil {
				return err
			}
		}
	}
	return nil
}

func cyclePath(stack []*PluginNode, start *PluginNode) []string {
	var path []string
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == start {
			for _, n := range stack[i:] {
				path = append(path, n.Name())
			}
			break
		}
	}
	return append(path, start.Name())
}

// Roots returns the nodes without in-set dependencies.
func (t *PluginTree) Roots() []*PluginNode {
	return append([]*PluginNode(nil), t.roots...)
}

// Nodes returns every node in input order.
func (t *PluginTree) Nodes() []*PluginNode {
	return append([]*PluginNode(nil), t.nodes...)
}

// Node returns the node called name.
func (t *PluginTree) Node(name string) (*PluginNode, bool) {
	node, ok := t.index[name]
	return node, ok
}

// Len returns the number of plugins in the tree.
func (t *PluginTree) Len() int {
	return len(t.nodes)
}

// LeafLastNodes returns every node after all of its dependencies.
//
// Each node is appended after all of its dependents (leaf-first); reversing
// that sequence puts dependencies ahead of the plugins that need them.
func (t *PluginTree) LeafLastNodes() []*PluginNode {
	leafFirst := make([]*PluginNode, 0, len(t.nodes))
	seen := make(map[*PluginNode]bool, len(t.nodes))

	var collect func(node *PluginNode)
	collect = func(node *PluginNode) {
		if seen[node] {
			return
		}
		seen[node] = true
		for _, child := range node.children {
			collect(child)
		}
		leafFirst = append(leafFirst, node)
	}
	for _, root := range t.roots {
		collect(root)
	}

	ordered := make([]*PluginNode, len(leafFirst))
	for i, node := range leafFirst {
		ordered[len(leafFirst)-1-i] = node
	}
	return ordered
}

// LeafLastNames is LeafLastNodes reduced to plugin names.
func (t *PluginTree) LeafLastNames() []string {
	nodes := t.LeafLastNodes()
	names := make([]string, 0, len(nodes))
	for _, node := range nodes {
		names = append(names, node.Name())
	}
	return names
}
