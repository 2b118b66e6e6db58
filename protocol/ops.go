package protocol

import (
	"encoding/json"
	"fmt"

	"codefusion/workspace"
)

// IsWorkspaceEvent reports whether event carries a structural workspace op.
func IsWorkspaceEvent(event Event) bool {
	switch event {
	case DirectoryCreated, DirectoryUpdated, DirectoryRenamed, DirectoryDeleted,
		FileCreated, FileUpdated, FileRenamed, FileDeleted:
		return true
	}
	return false
}

// EventFor returns the relay event of a workspace op.
func EventFor(op workspace.Op) (Event, error) {
	switch op.(type) {
	case workspace.DirectoryCreate:
		return DirectoryCreated, nil
	case workspace.DirectoryUpdate:
		return DirectoryUpdated, nil
	case workspace.DirectoryRename:
		return DirectoryRenamed, nil
	case workspace.DirectoryDelete:
		return DirectoryDeleted, nil
	case workspace.FileCreate:
		return FileCreated, nil
	case workspace.FileUpdate:
		return FileUpdated, nil
	case workspace.FileRename:
		return FileRenamed, nil
	case workspace.FileDelete:
		return FileDeleted, nil
	}
	return "", fmt.Errorf("%w: op %T", ErrUnknownEvent, op)
}

// EncodeOp wraps a workspace op in its relay message.
func EncodeOp(op workspace.Op) (Message, error) {
	event, err := EventFor(op)
	if err != nil {
		return Message{}, err
	}
	return New(event, op)
}

// DecodeOp decodes and validates the payload of a workspace event.
func DecodeOp(event Event, raw json.RawMessage) (workspace.Op, error) {
	var (
		op  workspace.Op
		err error
	)
	switch event {
	case DirectoryCreated:
		op, err = Decode[workspace.DirectoryCreate](raw)
	case DirectoryUpdated:
		op, err = Decode[workspace.DirectoryUpdate](raw)
	case DirectoryRenamed:
		op, err = Decode[workspace.DirectoryRename](raw)
	case DirectoryDeleted:
		op, err = Decode[workspace.DirectoryDelete](raw)
	case FileCreated:
		op, err = Decode[workspace.FileCreate](raw)
	case FileUpdated:
		op, err = Decode[workspace.FileUpdate](raw)
	case FileRenamed:
		op, err = Decode[workspace.FileRename](raw)
	case FileDeleted:
		op, err = Decode[workspace.FileDelete](raw)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}
	if err != nil {
		return nil, err
	}
	if err := workspace.Validate(op); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return op, nil
}
