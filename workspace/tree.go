package workspace

import "fmt"

// find returns the node with the given id anywhere below (and including) root.
func find(root *Node, id string) *Node {
	if root == nil {
		return nil
	}
	if root.ID == id {
		return root
	}
	for _, child := range root.Children {
		if found := find(child, id); found != nil {
			return found
		}
	}
	return nil
}

// findParent returns the directory holding the node with the given id and
// that node's index in its children.
func findParent(root *Node, id string) (*Node, int) {
	if root == nil {
		return nil, -1
	}
	for i, child := range root.Children {
		if child.ID == id {
			return root, i
		}
		if parent, idx := findParent(child, id); parent != nil {
			return parent, idx
		}
	}
	return nil, -1
}

// collectIDs records the id of n and of every node below it.
func collectIDs(n *Node, into map[string]struct{}) {
	into[n.ID] = struct{}{}
	for _, child := range n.Children {
		collectIDs(child, into)
	}
}

func hasChild(dir *Node, kind Kind, name string) bool {
	for _, child := range dir.Children {
		if child.Type == kind && child.Name == name {
			return true
		}
	}
	return false
}

// uniqueName renumbers name as "name(1)", "name(2)", ... until no sibling of
// the same kind uses it.
func uniqueName(dir *Node, kind Kind, name string) string {
	candidate := name
	for n := 1; hasChild(dir, kind, candidate); n++ {
		candidate = fmt.Sprintf("%s(%d)", name, n)
	}
	return candidate
}

func removeAt(children []*Node, i int) []*Node {
	out := make([]*Node, 0, len(children)-1)
	out = append(out, children[:i]...)
	return append(out, children[i+1:]...)
}

func cloneAll(nodes []*Node) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Clone())
	}
	return out
}
