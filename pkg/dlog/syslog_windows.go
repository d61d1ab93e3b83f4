//go:build windows || plan9

package dlog

import "errors"

// SetSyslog is unavailable on platforms without a system log daemon.
func (s *Sink) SetSyslog(tag string) error {
	return errors.New("dlog: system log not supported on this platform")
}
