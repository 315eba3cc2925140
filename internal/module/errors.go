package module

import (
	"errors"
	"fmt"
	"strings"
)

// UsageError reports an invalid module selection. It is raised before any
// remote call is made.
type UsageError struct {
	Unknown []string
	Message string
}

func (e *UsageError) Error() string {
	if len(e.Unknown) > 0 {
		return fmt.Sprintf("unknown module(s) %s: valid values are %s or %q",
			strings.Join(quoteAll(e.Unknown), ", "),
			strings.Join(Names(), ", "),
			AllName,
		)
	}
	return e.Message
}

// IsUsageError reports whether err wraps a *UsageError
func IsUsageError(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue)
}

func quoteAll(values []string) []string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return quoted
}
