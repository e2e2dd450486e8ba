package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrCompositionFailed = errors.New("composition failed")
	ErrPromptRejected    = errors.New("prompt rejected")
	ErrProductionFailed  = errors.New("production failed")
	ErrPersistenceFailed = errors.New("persistence failed")
)

// RevisionError reports that a capability provider declined a request and
// wants it revised. The provider's issue list is preserved verbatim.
type RevisionError struct {
	Issues []string
}

func (e *RevisionError) Error() string {
	if len(e.Issues) == 0 {
		return "needs revision"
	}
	return fmt.Sprintf("needs revision: %s", strings.Join(e.Issues, "; "))
}

