package domain

import (
	"errors"
	"fmt"
)

// PermissionError is returned by platform calls that failed because the app
// is missing a grant. GrantURL can be embedded in agent-facing text; it is
// never surfaced raw to the end user.
type PermissionError struct {
	Code     int
	GrantURL string
	Msg      string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied (code %d): %s", e.Code, e.Msg)
}

// AsPermissionError unwraps err to a *PermissionError if one is in the chain.
func AsPermissionError(err error) (*PermissionError, bool) {
	var pe *PermissionError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
