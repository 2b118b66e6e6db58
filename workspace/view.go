package workspace

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// Snapshot is the full state handed to a participant joining a room.
type Snapshot struct {
	FileStructure *Node   `json:"fileStructure"`
	OpenFiles     []*Node `json:"openFiles"`
	ActiveFile    *Node   `json:"activeFile"`
}

// Default is the workspace a participant starts with before (or instead
// of) receiving a snapshot.
func Default() Snapshot {
	index := NewFile("index.js", "")
	root := NewDirectory("root")
	root.Children = append(root.Children, index)
	return Snapshot{
		FileStructure: root,
		OpenFiles:     []*Node{index.Clone()},
		ActiveFile:    index.Clone(),
	}
}

// Snapshot returns a deep copy of the tree and the open-file view.
func (w *Workspace) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		FileStructure: w.root.Clone(),
		OpenFiles:     cloneAll(w.openFiles),
		ActiveFile:    w.active.Clone(),
	}
}

// Restore replaces the whole state with s. Nothing is emitted.
func (w *Workspace) Restore(s Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.root = s.FileStructure.Clone()
	if w.root == nil {
		w.root = NewDirectory("root")
	}
	w.openFiles = cloneAll(s.OpenFiles)
	w.active = s.ActiveFile.Clone()
}

// Digest is a blake3 hash of the snapshot's JSON form. Two participants
// with equal digests hold identical trees and views.
func (s Snapshot) Digest() (string, error) {
	if s.OpenFiles == nil {
		s.OpenFiles = []*Node{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("workspace: encoding snapshot: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (w *Workspace) Digest() (string, error) {
	return w.Snapshot().Digest()
}

// Tree returns a copy of the file tree.
func (w *Workspace) Tree() *Node {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.root.Clone()
}

// Find returns a copy of the node with the given id.
func (w *Workspace) Find(id string) (*Node, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := find(w.root, id)
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return n.Clone(), nil
}

func (w *Workspace) OpenFiles() []*Node {
	w.mu.Lock()
	defer w.mu.Unlock()
	return cloneAll(w.openFiles)
}

// ActiveFile returns a copy of the active file, or nil.
func (w *Workspace) ActiveFile() *Node {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active.Clone()
}

// OpenFile adds the file to the open files if needed and makes it active.
func (w *Workspace) OpenFile(fileID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := find(w.root, fileID)
	if n == nil || !n.IsFile() {
		return fmt.Errorf("%w: file %s", ErrNotFound, fileID)
	}
	open := false
	for _, f := range w.openFiles {
		if f.ID == fileID {
			open = true
			break
		}
	}
	if !open {
		w.openFiles = append(w.openFiles, n.Clone())
	}
	w.active = n.Clone()
	return nil
}

// CloseFile removes the file from the open files. Closing the active file
// activates its left neighbour, or the right one when it was first.
func (w *Workspace) CloseFile(fileID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := -1
	for i, f := range w.openFiles {
		if f.ID == fileID {
			idx = i
			break
		}
	}
	if w.active != nil && w.active.ID == fileID {
		switch {
		case idx == -1 || len(w.openFiles) == 1:
			w.active = nil
		case idx > 0:
			w.active = w.openFiles[idx-1].Clone()
		default:
			w.active = w.openFiles[idx+1].Clone()
		}
	}
	if idx >= 0 {
		w.openFiles = removeAt(w.openFiles, idx)
	}
}

// ToggleDirectory flips the open flag of a directory. View state only, never
// relayed.
func (w *Workspace) ToggleDirectory(dirID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	dir, err := w.dir(dirID)
	if err != nil {
		return err
	}
	dir.IsOpen = !dir.IsOpen
	return nil
}

// CollapseDirectories closes every directory in the tree.
func (w *Workspace) CollapseDirectories() {
	w.mu.Lock()
	defer w.mu.Unlock()
	var collapse func(*Node)
	collapse = func(n *Node) {
		if !n.IsDirectory() {
			return
		}
		n.IsOpen = false
		for _, child := range n.Children {
			collapse(child)
		}
	}
	collapse(w.root)
}
