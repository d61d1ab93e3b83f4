//go:build !windows && !plan9

package dlog

import "log/syslog"

// SetSyslog redirects the sink's output to the local system log, tagged
// with tag. Severity still travels in the structured "severity" field;
// the syslog connection itself is opened at daemon/info priority.
func (s *Sink) SetSyslog(tag string) error {
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
	if err != nil {
		return err
	}
	s.l.Out = w
	return nil
}
