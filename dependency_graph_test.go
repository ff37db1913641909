// dependency_graph_test.go: tree building, cycle detection and load order tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertLeafLast checks that every plugin appears after all of its in-tree
// dependencies, hard and optional.
func assertLeafLast(t *testing.T, tree *PluginTree) {
	t.Helper()
	order := tree.LeafLastNames()
	require.Len(t, order, tree.Len())

	position := make(map[string]int, len(order))
	for i, name := range order {
		_, dup := position[name]
		require.False(t, dup, "%s listed twice", name)
		position[name] = i
	}
	for _, node := range tree.Nodes() {
		for _, dep := range node.Dependencies() {
			assert.Less(t, position[dep.Name()], position[node.Name()],
				"%s must load before %s", dep.Name(), node.Name())
		}
	}
}

func TestBuildPluginTree_LeafLastOrder(t *testing.T) {
	descriptors := []*PluginDescriptor{
		testDescriptor("review", "1.0.0", "mail", "vcs"),
		testDescriptor("chat", "1.0.0", "mail"),
		testDescriptor("vcs", "1.0.0", "core-ui"),
		testDescriptor("mail", "1.0.0", "core-ui"),
		testDescriptor("core-ui", "1.0.0"),
		testDescriptor("standalone", "1.0.0"),
	}
	descriptors[1].OptionalDependencies = refs("review")

	tree, err := BuildPluginTree(descriptors, testEnv())
	require.NoError(t, err)

	assert.Equal(t, 6, tree.Len())
	assertLeafLast(t, tree)

	var roots []string
	for _, root := range tree.Roots() {
		roots = append(roots, root.Name())
	}
	assert.ElementsMatch(t, []string{"core-ui", "standalone"}, roots)

	mail, ok := tree.Node("mail")
	require.True(t, ok)
	var children []string
	for _, child := range mail.Children() {
		children = append(children, child.Name())
	}
	assert.ElementsMatch(t, []string{"review", "chat"}, children)
}

func TestBuildPluginTree_OrderPropertyAcrossInputPermutations(t *testing.T) {
	base := []*PluginDescriptor{
		testDescriptor("a", "1.0.0"),
		testDescriptor("b", "1.0.0", "a"),
		testDescriptor("c", "1.0.0", "a", "b"),
		testDescriptor("d", "1.0.0", "c"),
		testDescriptor("e", "1.0.0", "b", "d"),
	}

	// every rotation of the input must still produce a valid order
	for shift := range base {
		rotated := append(append([]*PluginDescriptor{}, base[shift:]...), base[:shift]...)
		tree, err := BuildPluginTree(rotated, testEnv())
		require.NoError(t, err)
		assertLeafLast(t, tree)
	}
}

func TestBuildPluginTree_OptionalDependencyAbsent(t *testing.T) {
	d := testDescriptor("review", "1.0.0")
	d.OptionalDependencies = refs("editor")

	tree, err := BuildPluginTree([]*PluginDescriptor{d}, testEnv())
	require.NoError(t, err)
	assert.Equal(t, []string{"review"}, tree.LeafLastNames())
}

func TestBuildPluginTree_TwoNodeCycle(t *testing.T) {
	descriptors := []*PluginDescriptor{
		testDescriptor("X", "1.0.0", "Y"),
		testDescriptor("Y", "1.0.0", "X"),
	}

	_, err := BuildPluginTree(descriptors, testEnv())
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrCodeCircularDependency))

	plugin, _ := ErrorContext(err, "plugin_name")
	dependency, _ := ErrorContext(err, "dependency_name")
	assert.ElementsMatch(t, []interface{}{"X", "Y"}, []interface{}{plugin, dependency})
}

func TestBuildPluginTree_OptionalCycle(t *testing.T) {
	x := testDescriptor("X", "1.0.0", "Y")
	y := testDescriptor("Y", "1.0.0")
	y.OptionalDependencies = refs("X")

	_, err := BuildPluginTree([]*PluginDescriptor{x, y}, testEnv())
	assert.True(t, HasErrorCode(err, ErrCodeCircularDependency))
}

func TestBuildPluginTree_LongerCycle(t *testing.T) {
	descriptors := []*PluginDescriptor{
		testDescriptor("A", "1.0.0", "B"),
		testDescriptor("B", "1.0.0", "C"),
		testDescriptor("C", "1.0.0", "A"),
		testDescriptor("D", "1.0.0"),
	}

	_, err := BuildPluginTree(descriptors, testEnv())
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrCodeCircularDependency))

	cycle, ok := ErrorContext(err, "cycle")
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B", "C", "A"}, cycle)
}

func TestBuildPluginTree_Rejections(t *testing.T) {
	oldSchema := testDescriptor("legacy", "1.0.0")
	oldSchema.SchemaVersion = 1

	windowsOnly := testDescriptor("win", "1.0.0")
	windowsOnly.Condition = PluginCondition{OS: []string{"plan9"}}

	testCases := []struct {
		name        string
		descriptors []*PluginDescriptor
		code        string
	}{
		{"duplicate", []*PluginDescriptor{testDescriptor("a", "1.0.0"), testDescriptor("a", "2.0.0")}, ErrCodeDuplicatePlugin},
		{"schema", []*PluginDescriptor{oldSchema}, ErrCodeSchemaIncompatible},
		{"condition", []*PluginDescriptor{windowsOnly}, ErrCodePluginConditionFailed},
		{"missing hard dependency", []*PluginDescriptor{testDescriptor("a", "1.0.0", "ghost")}, ErrCodePluginNotInstallable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildPluginTree(tc.descriptors, testEnv())
			require.Error(t, err)
			assert.True(t, HasErrorCode(err, tc.code), "got %v", err)
		})
	}
}

func TestBuildPluginTree_Empty(t *testing.T) {
	tree, err := BuildPluginTree(nil, testEnv())
	require.NoError(t, err)
	assert.Zero(t, tree.Len())
	assert.Empty(t, tree.LeafLastNames())
	assert.Empty(t, tree.Roots())
}
