package workspace

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type Kind string

const (
	KindDirectory Kind = "directory"
	KindFile      Kind = "file"
)

// Node is one entry of the shared file tree. Directories use Children and
// IsOpen, files use Content.
type Node struct {
	ID       string
	Name     string
	Type     Kind
	Children []*Node
	IsOpen   bool
	Content  string
}

// NewDirectory returns an open, empty directory with a fresh id.
func NewDirectory(name string) *Node {
	return &Node{
		ID:       uuid.NewString(),
		Name:     name,
		Type:     KindDirectory,
		Children: []*Node{},
		IsOpen:   true,
	}
}

// NewFile returns a file with a fresh id.
func NewFile(name, content string) *Node {
	return &Node{
		ID:      uuid.NewString(),
		Name:    name,
		Type:    KindFile,
		Content: content,
	}
}

func (n *Node) IsDirectory() bool { return n != nil && n.Type == KindDirectory }

func (n *Node) IsFile() bool { return n != nil && n.Type == KindFile }

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Type == KindDirectory {
		c.Children = make([]*Node, 0, len(n.Children))
		for _, child := range n.Children {
			c.Children = append(c.Children, child.Clone())
		}
	} else {
		c.Children = nil
	}
	return &c
}

type directoryJSON struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Type     Kind    `json:"type"`
	Children []*Node `json:"children"`
	IsOpen   bool    `json:"isOpen"`
}

type fileJSON struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    Kind   `json:"type"`
	Content string `json:"content"`
}

// MarshalJSON always writes the fields of the node's variant, so an empty
// directory and an empty file survive a round trip unchanged.
func (n *Node) MarshalJSON() ([]byte, error) {
	if n.Type == KindDirectory {
		children := n.Children
		if children == nil {
			children = []*Node{}
		}
		return json.Marshal(directoryJSON{ID: n.ID, Name: n.Name, Type: n.Type, Children: children, IsOpen: n.IsOpen})
	}
	return json.Marshal(fileJSON{ID: n.ID, Name: n.Name, Type: n.Type, Content: n.Content})
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       string  `json:"id"`
		Name     string  `json:"name"`
		Type     Kind    `json:"type"`
		Children []*Node `json:"children"`
		IsOpen   bool    `json:"isOpen"`
		Content  string  `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case KindDirectory:
		if raw.Children == nil {
			raw.Children = []*Node{}
		}
		*n = Node{ID: raw.ID, Name: raw.Name, Type: raw.Type, Children: raw.Children, IsOpen: raw.IsOpen}
	case KindFile:
		*n = Node{ID: raw.ID, Name: raw.Name, Type: raw.Type, Content: raw.Content}
	default:
		return fmt.Errorf("workspace: unknown node type %q", raw.Type)
	}
	return nil
}

// Validate checks the shape of a node received from elsewhere: ids and
// names present on every node and no nil children.
func (n *Node) Validate() error {
	if n == nil {
		return fmt.Errorf("%w: nil node", ErrInvalidNode)
	}
	if n.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidNode)
	}
	if n.Name == "" {
		return fmt.Errorf("%w: node %s has no name", ErrInvalidNode, n.ID)
	}
	switch n.Type {
	case KindDirectory:
		for _, child := range n.Children {
			if err := child.Validate(); err != nil {
				return err
			}
		}
	case KindFile:
	default:
		return fmt.Errorf("%w: node %s has type %q", ErrInvalidNode, n.ID, n.Type)
	}
	return nil
}
