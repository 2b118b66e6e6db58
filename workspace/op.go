package workspace

import "fmt"

// Op is one replicated structural operation. The JSON shape of each op is
// the payload of its relay event.
type Op interface {
	validate() error
}

type DirectoryCreate struct {
	ParentDirID  string `json:"parentDirId"`
	NewDirectory *Node  `json:"newDirectory"`
}

type DirectoryUpdate struct {
	DirID    string  `json:"dirId"`
	Children []*Node `json:"children"`
}

type DirectoryRename struct {
	DirID   string `json:"dirId"`
	NewName string `json:"newName"`
}

type DirectoryDelete struct {
	DirID string `json:"dirId"`
}

type FileCreate struct {
	ParentDirID string `json:"parentDirId"`
	NewFile     *Node  `json:"newFile"`
}

type FileUpdate struct {
	FileID     string `json:"fileId"`
	NewContent string `json:"newContent"`
}

type FileRename struct {
	FileID  string `json:"fileId"`
	NewName string `json:"newName"`
}

type FileDelete struct {
	FileID string `json:"fileId"`
}

func (o DirectoryCreate) validate() error {
	if err := o.NewDirectory.Validate(); err != nil {
		return err
	}
	if !o.NewDirectory.IsDirectory() {
		return fmt.Errorf("%w: newDirectory is a %s", ErrInvalidNode, o.NewDirectory.Type)
	}
	return nil
}

func (o DirectoryUpdate) validate() error {
	for _, child := range o.Children {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (o DirectoryRename) validate() error {
	if o.DirID == "" || o.NewName == "" {
		return fmt.Errorf("%w: dirId and newName are required", ErrInvalidNode)
	}
	return nil
}

func (o DirectoryDelete) validate() error {
	if o.DirID == "" {
		return fmt.Errorf("%w: dirId is required", ErrInvalidNode)
	}
	return nil
}

func (o FileCreate) validate() error {
	if err := o.NewFile.Validate(); err != nil {
		return err
	}
	if !o.NewFile.IsFile() {
		return fmt.Errorf("%w: newFile is a %s", ErrInvalidNode, o.NewFile.Type)
	}
	return nil
}

func (o FileUpdate) validate() error {
	if o.FileID == "" {
		return fmt.Errorf("%w: fileId is required", ErrInvalidNode)
	}
	return nil
}

func (o FileRename) validate() error {
	if o.FileID == "" || o.NewName == "" {
		return fmt.Errorf("%w: fileId and newName are required", ErrInvalidNode)
	}
	return nil
}

func (o FileDelete) validate() error {
	if o.FileID == "" {
		return fmt.Errorf("%w: fileId is required", ErrInvalidNode)
	}
	return nil
}

// Validate checks that op carries everything its apply rule needs.
func Validate(op Op) error {
	if op == nil {
		return fmt.Errorf("%w: nil op", ErrInvalidNode)
	}
	return op.validate()
}
