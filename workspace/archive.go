package workspace

import (
	"fmt"
	"io"
	"io/fs"
	"path"

	"github.com/klauspost/compress/zip"
)

// WriteArchive writes the tree below the root as a zip archive. Empty
// directories are kept as directory entries.
func (w *Workspace) WriteArchive(out io.Writer) error {
	root := w.Tree()
	zw := zip.NewWriter(out)
	for _, child := range root.Children {
		if err := archiveNode(zw, child, ""); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("workspace: closing archive: %w", err)
	}
	return nil
}

func archiveNode(zw *zip.Writer, n *Node, parent string) error {
	name := path.Join(parent, n.Name)
	if n.IsFile() {
		f, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("workspace: adding %s: %w", name, err)
		}
		_, err = io.WriteString(f, n.Content)
		return err
	}
	if len(n.Children) == 0 {
		_, err := zw.Create(name + "/")
		return err
	}
	for _, child := range n.Children {
		if err := archiveNode(zw, child, name); err != nil {
			return err
		}
	}
	return nil
}

// Import builds a directory tree from fsys, rooted at a directory called
// rootName. Entries are added in lexical order.
func Import(fsys fs.FS, rootName string) (*Node, error) {
	root := NewDirectory(rootName)
	dirs := map[string]*Node{".": root}
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." {
			return nil
		}
		parent := dirs[path.Dir(p)]
		if parent == nil {
			return nil
		}
		if d.IsDir() {
			dir := NewDirectory(d.Name())
			dir.IsOpen = false
			parent.Children = append(parent.Children, dir)
			dirs[p] = dir
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		parent.Children = append(parent.Children, NewFile(d.Name(), string(data)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: importing %s: %w", rootName, err)
	}
	return root, nil
}
