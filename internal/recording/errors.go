package recording

import (
	"errors"
	"fmt"
)

// DeviceError reports that an input device could not be opened or stopped
// delivering audio. Hardware failures are not retried.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	device := e.Device
	if device == "" {
		device = "default"
	}
	if e.Err == nil {
		return fmt.Sprintf("audio device %s: failed", device)
	}
	return fmt.Sprintf("audio device %s: %v", device, e.Err)
}

func (e *DeviceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}
