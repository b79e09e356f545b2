package model

import "fmt"

// ConfigError reports an unusable instrumentation manifest. It is fatal:
// there is no coverage baseline without the manifest.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("load manifest %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// UnknownMethodError reports an instrumentation event whose method id is not
// in the registry, usually a manifest built for a different APK.
type UnknownMethodError struct {
	MethodID string
	Index    int64
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("unknown method id %q at line %d", e.MethodID, e.Index)
}

// MalformedLineError reports a line that could only be classified partially.
type MalformedLineError struct {
	Index  int64
	Raw    string
	Reason string
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed line %d: %s", e.Index, e.Reason)
}

// DeviceUnavailableError reports that a device command could not run at all.
type DeviceUnavailableError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *DeviceUnavailableError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("device %s: %v: %s", e.Op, e.Err, e.Stderr)
	}
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

func (e *DeviceUnavailableError) Unwrap() error { return e.Err }
