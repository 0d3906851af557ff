package dict

import "errors"

var (
	// ErrInvalidPath indicates a root or entry path that does not resolve
	// to something usable.
	ErrInvalidPath = errors.New("invalid path")

	// ErrCorruptDictionary indicates a dictionary stream with a bad magic,
	// an unsupported version, or a length inconsistent with its entry
	// count.
	ErrCorruptDictionary = errors.New("corrupt dictionary")
)
