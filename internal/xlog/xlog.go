// Package xlog is the process-wide logging plumbing for xrdec. It wraps
// logrus the way rclone's fs package wraps its own leveled logger:
// package-level helpers that accept an optional "subject" (the object
// whose activity is being logged) so every line carries the component
// it came from.
package xlog

import "github.com/sirupsen/logrus"

// Logger is the process-wide logrus instance: logrus's standard
// logger, bound at package initialization. The helpers below log
// through it, and cmd/xrdec raises its level to Debug for --verbose.
var Logger = logrus.StandardLogger()

// Subject is implemented by anything worth naming in a log line: a
// block, an archive handle, an object config.
type Subject interface {
	String() string
}

func fields(subj Subject) logrus.Fields {
	if subj == nil {
		return logrus.Fields{}
	}
	return logrus.Fields{"subject": subj.String()}
}

// Debugf logs a debug-level line, optionally scoped to subj.
func Debugf(subj Subject, format string, args ...interface{}) {
	Logger.WithFields(fields(subj)).Debugf(format, args...)
}

// Infof logs an info-level line, optionally scoped to subj.
func Infof(subj Subject, format string, args ...interface{}) {
	Logger.WithFields(fields(subj)).Infof(format, args...)
}

// Warnf logs a warn-level line, optionally scoped to subj.
func Warnf(subj Subject, format string, args ...interface{}) {
	Logger.WithFields(fields(subj)).Warnf(format, args...)
}

// Errorf logs an error-level line, optionally scoped to subj.
func Errorf(subj Subject, format string, args ...interface{}) {
	Logger.WithFields(fields(subj)).Errorf(format, args...)
}
