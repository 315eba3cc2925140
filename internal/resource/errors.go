package resource

import (
	"errors"
	"fmt"

	"github.com/livinlefevreloca/catalogsync/internal/platform"
)

// ItemError is a failure confined to a single resource. It is counted in the
// pass statistics and never aborts the pass.
type ItemError struct {
	Key    string
	Reason string
	Err    error
}

func (e *ItemError) Error() string {
	msg := fmt.Sprintf("resource %q: %s", e.Key, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// IsItemError reports whether err wraps an *ItemError
func IsItemError(err error) bool {
	var ie *ItemError
	return errors.As(err, &ie)
}

// errDeferred marks a resource whose reference targets another resource of
// the same batch that has not been written yet
var errDeferred = errors.New("deferred")

// missingParentError marks a resource whose same-type reference is neither
// in the target nor pending in the current batch
type missingParentError struct {
	typ platform.ResourceType
	key string
}

func (e *missingParentError) Error() string {
	return fmt.Sprintf("referenced %s %q does not exist in the target project", e.typ, e.key)
}

// itemLevel reports whether a command failure concerns only the resource
// being written, as opposed to the target project as a whole
func itemLevel(err error) bool {
	switch platform.CodeOf(err) {
	case platform.CodeInvalidInput, platform.CodeConflict, platform.CodeNotFound:
		return true
	}
	return false
}
