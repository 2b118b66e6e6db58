// Package workspace holds one participant's copy of the shared file tree
// together with its open-file view, and the deterministic rules used to
// apply structural operations to it.
//
// Every mutator takes an Origin. Local calls emit the resulting Op through
// the Emitter so it can be relayed; Remote calls never emit, which is what
// keeps a relayed op from echoing back to its originator. Concurrent
// operations on the same node are not ordered: whichever op a participant
// applies last wins for that participant.
package workspace

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("workspace: node not found")
	ErrNameTaken    = errors.New("workspace: a sibling directory already has that name")
	ErrNotDirectory = errors.New("workspace: not a directory")
	ErrInvalidNode  = errors.New("workspace: invalid node")
	ErrRoot         = errors.New("workspace: the root directory cannot be removed")
)

// Origin tells a mutator where the call came from.
type Origin int

const (
	Local Origin = iota
	Remote
)

// Emitter receives the ops produced by local mutations.
type Emitter interface {
	Emit(op Op)
}

type EmitterFunc func(op Op)

func (f EmitterFunc) Emit(op Op) { f(op) }

type Workspace struct {
	// order is held by a local mutation until its op has been emitted, and
	// by Share while it hands out a snapshot.
	order     sync.Mutex
	mu        sync.Mutex
	root      *Node
	openFiles []*Node
	active    *Node
	emitter   Emitter
}

// New returns a workspace holding the default tree.
func New(emitter Emitter) *Workspace {
	w := &Workspace{emitter: emitter}
	w.Restore(Default())
	return w
}

// SetEmitter replaces the emitter used for local mutations.
func (w *Workspace) SetEmitter(emitter Emitter) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emitter = emitter
}

// sequence holds order for a local mutation. The emitter runs under it and
// must not call back into the workspace.
func (w *Workspace) sequence(origin Origin) func() {
	if origin != Local {
		return func() {}
	}
	w.order.Lock()
	return w.order.Unlock
}

// Share calls fn with a snapshot taken when no local op is between changing
// the tree and being emitted. Anything fn emits or sends is therefore
// ordered after every op the snapshot already contains.
func (w *Workspace) Share(fn func(Snapshot)) {
	w.order.Lock()
	defer w.order.Unlock()
	fn(w.Snapshot())
}

func (w *Workspace) emit(origin Origin, op Op) {
	if origin != Local {
		return
	}
	w.mu.Lock()
	emitter := w.emitter
	w.mu.Unlock()
	if emitter != nil {
		emitter.Emit(op)
	}
}

// dir resolves a directory id, treating "" as the root.
func (w *Workspace) dir(id string) (*Node, error) {
	if id == "" {
		return w.root, nil
	}
	n := find(w.root, id)
	if n == nil {
		return nil, fmt.Errorf("%w: directory %s", ErrNotFound, id)
	}
	if !n.IsDirectory() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, id)
	}
	return n, nil
}

// RootID returns the id of the root directory.
func (w *Workspace) RootID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.root.ID
}

// CreateDirectory appends dir to the parent's children and returns its id.
// A local call assigns an id when dir has none and renumbers the name when
// a sibling directory already uses it; a remote call keeps dir as sent and
// is a no-op when a node with its id already exists. The parent's open flag
// is left as it is.
func (w *Workspace) CreateDirectory(parentID string, dir *Node, origin Origin) (string, error) {
	defer w.sequence(origin)()
	if dir == nil || dir.Type != KindDirectory {
		return "", fmt.Errorf("%w: expected a directory", ErrInvalidNode)
	}
	w.mu.Lock()
	parent, err := w.dir(parentID)
	if err != nil {
		w.mu.Unlock()
		return "", err
	}
	created := dir.Clone()
	if origin == Remote && find(w.root, created.ID) != nil {
		// already present, e.g. carried by the snapshot this op raced with
		w.mu.Unlock()
		return created.ID, nil
	}
	if origin == Local {
		if created.ID == "" {
			created.ID = uuid.NewString()
		}
		if created.Name == "" {
			w.mu.Unlock()
			return "", fmt.Errorf("%w: directory name is empty", ErrInvalidNode)
		}
		created.Name = uniqueName(parent, KindDirectory, created.Name)
		created.IsOpen = true
	}
	parent.Children = append(parent.Children, created)
	op := DirectoryCreate{ParentDirID: parent.ID, NewDirectory: created.Clone()}
	w.mu.Unlock()

	w.emit(origin, op)
	return created.ID, nil
}

// UpdateDirectory replaces the whole children sequence of a directory. A
// bulk replace invalidates every open-file reference, so the open files
// and the active file are cleared.
func (w *Workspace) UpdateDirectory(dirID string, children []*Node, origin Origin) error {
	defer w.sequence(origin)()
	w.mu.Lock()
	dir, err := w.dir(dirID)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	dir.Children = cloneAll(children)
	w.openFiles = []*Node{}
	w.active = nil
	op := DirectoryUpdate{DirID: dir.ID, Children: cloneAll(children)}
	w.mu.Unlock()

	w.emit(origin, op)
	return nil
}

// RenameDirectory renames a directory. A local rename is refused with
// ErrNameTaken when a sibling directory already has newName; a remote
// rename is applied without that check, so participants can end up with
// duplicate sibling names after concurrent renames.
func (w *Workspace) RenameDirectory(dirID, newName string, origin Origin) error {
	defer w.sequence(origin)()
	if newName == "" {
		return fmt.Errorf("%w: directory name is empty", ErrInvalidNode)
	}
	w.mu.Lock()
	dir := find(w.root, dirID)
	if dir == nil || !dir.IsDirectory() {
		w.mu.Unlock()
		return fmt.Errorf("%w: directory %s", ErrNotFound, dirID)
	}
	if origin == Local {
		if parent, _ := findParent(w.root, dirID); parent != nil {
			for _, sibling := range parent.Children {
				if sibling.IsDirectory() && sibling.Name == newName && sibling.ID != dirID {
					w.mu.Unlock()
					return fmt.Errorf("%w: %s", ErrNameTaken, newName)
				}
			}
		}
	}
	dir.Name = newName
	w.mu.Unlock()

	w.emit(origin, DirectoryRename{DirID: dirID, NewName: newName})
	return nil
}

// DeleteDirectory removes a directory with its subtree. Open files inside
// the subtree are closed and the active file is cleared if it was one of
// them.
func (w *Workspace) DeleteDirectory(dirID string, origin Origin) error {
	defer w.sequence(origin)()
	w.mu.Lock()
	if dirID == w.root.ID {
		w.mu.Unlock()
		return ErrRoot
	}
	parent, idx := findParent(w.root, dirID)
	if parent == nil || !parent.Children[idx].IsDirectory() {
		w.mu.Unlock()
		return fmt.Errorf("%w: directory %s", ErrNotFound, dirID)
	}
	removed := make(map[string]struct{})
	collectIDs(parent.Children[idx], removed)
	parent.Children = removeAt(parent.Children, idx)
	w.dropOpen(removed)
	w.mu.Unlock()

	w.emit(origin, DirectoryDelete{DirID: dirID})
	return nil
}

// CreateFile appends file to the parent directory and forces the parent
// open. A local call also renumbers a clashing name, opens the new file
// and makes it active. A remote create of an id already in the tree is
// ignored.
func (w *Workspace) CreateFile(parentID string, file *Node, origin Origin) (string, error) {
	defer w.sequence(origin)()
	if file == nil || file.Type != KindFile {
		return "", fmt.Errorf("%w: expected a file", ErrInvalidNode)
	}
	w.mu.Lock()
	parent, err := w.dir(parentID)
	if err != nil {
		w.mu.Unlock()
		return "", err
	}
	created := file.Clone()
	if origin == Remote && find(w.root, created.ID) != nil {
		w.mu.Unlock()
		return created.ID, nil
	}
	if origin == Local {
		if created.ID == "" {
			created.ID = uuid.NewString()
		}
		if created.Name == "" {
			w.mu.Unlock()
			return "", fmt.Errorf("%w: file name is empty", ErrInvalidNode)
		}
		created.Name = uniqueName(parent, KindFile, created.Name)
	}
	parent.Children = append(parent.Children, created)
	parent.IsOpen = true
	if origin == Local {
		w.openFiles = append(w.openFiles, created.Clone())
		w.active = created.Clone()
	}
	op := FileCreate{ParentDirID: parent.ID, NewFile: created.Clone()}
	w.mu.Unlock()

	w.emit(origin, op)
	return created.ID, nil
}

// UpdateFileContent replaces a file's content in the tree and in the open
// file and active file mirrors.
func (w *Workspace) UpdateFileContent(fileID, content string, origin Origin) error {
	defer w.sequence(origin)()
	w.mu.Lock()
	found := w.mirror(fileID, func(n *Node) { n.Content = content })
	w.mu.Unlock()
	if !found {
		return fmt.Errorf("%w: file %s", ErrNotFound, fileID)
	}

	w.emit(origin, FileUpdate{FileID: fileID, NewContent: content})
	return nil
}

// RenameFile renames a file in the tree and its mirrors. There is no
// uniqueness check for files.
func (w *Workspace) RenameFile(fileID, newName string, origin Origin) error {
	defer w.sequence(origin)()
	if newName == "" {
		return fmt.Errorf("%w: file name is empty", ErrInvalidNode)
	}
	w.mu.Lock()
	found := w.mirror(fileID, func(n *Node) { n.Name = newName })
	w.mu.Unlock()
	if !found {
		return fmt.Errorf("%w: file %s", ErrNotFound, fileID)
	}

	w.emit(origin, FileRename{FileID: fileID, NewName: newName})
	return nil
}

// DeleteFile removes a file from the tree, closes it, and clears the
// active file if it was the one deleted.
func (w *Workspace) DeleteFile(fileID string, origin Origin) error {
	defer w.sequence(origin)()
	w.mu.Lock()
	parent, idx := findParent(w.root, fileID)
	if parent == nil || !parent.Children[idx].IsFile() {
		w.mu.Unlock()
		return fmt.Errorf("%w: file %s", ErrNotFound, fileID)
	}
	parent.Children = removeAt(parent.Children, idx)
	w.dropOpen(map[string]struct{}{fileID: {}})
	w.mu.Unlock()

	w.emit(origin, FileDelete{FileID: fileID})
	return nil
}

// Apply applies an op received from another participant.
func (w *Workspace) Apply(op Op) error {
	switch o := op.(type) {
	case DirectoryCreate:
		_, err := w.CreateDirectory(o.ParentDirID, o.NewDirectory, Remote)
		return err
	case DirectoryUpdate:
		return w.UpdateDirectory(o.DirID, o.Children, Remote)
	case DirectoryRename:
		return w.RenameDirectory(o.DirID, o.NewName, Remote)
	case DirectoryDelete:
		return w.DeleteDirectory(o.DirID, Remote)
	case FileCreate:
		_, err := w.CreateFile(o.ParentDirID, o.NewFile, Remote)
		return err
	case FileUpdate:
		return w.UpdateFileContent(o.FileID, o.NewContent, Remote)
	case FileRename:
		return w.RenameFile(o.FileID, o.NewName, Remote)
	case FileDelete:
		return w.DeleteFile(o.FileID, Remote)
	default:
		return fmt.Errorf("%w: unsupported op %T", ErrInvalidNode, op)
	}
}

// mirror runs fn on the file in the tree and on its copies in the open
// files and the active file. It reports whether any of them matched.
func (w *Workspace) mirror(fileID string, fn func(*Node)) bool {
	found := false
	if n := find(w.root, fileID); n != nil && n.IsFile() {
		fn(n)
		found = true
	}
	for _, open := range w.openFiles {
		if open.ID == fileID {
			fn(open)
			found = true
		}
	}
	if w.active != nil && w.active.ID == fileID {
		fn(w.active)
		found = true
	}
	return found
}

func (w *Workspace) dropOpen(ids map[string]struct{}) {
	kept := make([]*Node, 0, len(w.openFiles))
	for _, open := range w.openFiles {
		if _, gone := ids[open.ID]; !gone {
			kept = append(kept, open)
		}
	}
	w.openFiles = kept
	if w.active != nil {
		if _, gone := ids[w.active.ID]; gone {
			w.active = nil
		}
	}
}
