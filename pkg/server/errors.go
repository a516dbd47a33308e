package server

import "errors"

// Sentinel errors for routing operations. Handlers match them with errors.Is
// and translate them into feedback lines for the originating session; none of
// them mutate state and none of them are fatal to the process.
var (
	// Validation
	ErrEmptyName   = errors.New("name cannot be empty")
	ErrInvalidName = errors.New("name contains invalid characters or is too long")
	ErrDirtyName   = errors.New("name rejected by content filter")

	// Not found
	ErrUserNotFound  = errors.New("user not found")
	ErrGroupNotFound = errors.New("group does not exist")
	ErrTopicNotFound = errors.New("topic does not exist")

	// Conflict
	ErrNameTaken     = errors.New("username already taken")
	ErrGroupExists   = errors.New("group already exists")
	ErrTopicExists   = errors.New("topic already exists")
	ErrAlreadyMember     = errors.New("already a member of this group")
	ErrNotMember         = errors.New("not a member of this group")
	ErrNotRegistered     = errors.New("not registered")
	ErrAlreadyRegistered = errors.New("session is already registered")
)
