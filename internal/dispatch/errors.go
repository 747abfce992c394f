package dispatch

import (
	"errors"
	"fmt"
)

// DispatchError reports a batch the sink did not accept: a non-200 status
// (StatusCode and Body set) or a transport failure (Err set).
type DispatchError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *DispatchError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("dispatch: status %d: %v", e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("dispatch: %v", e.Err)
	case e.Body != "":
		return fmt.Sprintf("dispatch: status %d: %s", e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("dispatch: status %d", e.StatusCode)
	}
}

func (e *DispatchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func IsDispatchError(err error) bool {
	var de *DispatchError
	return errors.As(err, &de)
}
