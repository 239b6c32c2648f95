package refstore

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned when using a closed Store, Connection or ConnectionManager.
var ErrClosed = errors.New("refstore: closed")

// DataError reports a stored value or descriptor that cannot be decoded.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	var data string
	if n <= prefixLen+suffixLen {
		data = fmt.Sprintf("(%d) %x", n, e.Data)
	} else {
		data = fmt.Sprintf("(%d) %x...%x", n, e.Data[:prefixLen], e.Data[n-suffixLen:])
	}
	if e.Err != nil {
		return fmt.Sprintf("%s at %d: %v: %s", e.Msg, e.Off, e.Err, data)
	}
	return fmt.Sprintf("%s at %d: %s", e.Msg, e.Off, data)
}

// BuildError is a fatal store construction failure: empty or malformed input.
type BuildError struct {
	Reference Reference
	Key       string
	Msg       string
	Err       error
}

func buildErrf(ref Reference, key string, err error, format string, args ...any) error {
	return &BuildError{ref, key, fmt.Sprintf(format, args...), err}
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func (e *BuildError) Error() string {
	var buf strings.Builder
	buf.WriteString("build ")
	buf.WriteString(e.Reference.String())
	if e.Key != "" {
		fmt.Fprintf(&buf, " key %q", e.Key)
	}
	writeMsgAndErr(&buf, e.Msg, e.Err)
	return buf.String()
}

// DistributionError reports a cluster-visible store that cannot be published,
// found or read. The core never retries; the caller's scheduler may.
type DistributionError struct {
	Reference Reference
	Path      string
	Msg       string
	Err       error
}

func distErrf(ref Reference, path string, err error, format string, args ...any) error {
	return &DistributionError{ref, path, fmt.Sprintf(format, args...), err}
}

func (e *DistributionError) Unwrap() error {
	return e.Err
}

func (e *DistributionError) Error() string {
	var buf strings.Builder
	buf.WriteString("distribute ")
	buf.WriteString(e.Reference.String())
	if e.Path != "" {
		buf.WriteString(" (")
		buf.WriteString(e.Path)
		buf.WriteString(")")
	}
	writeMsgAndErr(&buf, e.Msg, e.Err)
	return buf.String()
}

// ReferenceMismatchError means the data handed to a component was tagged for
// a different table than the one the component is bound to.
type ReferenceMismatchError struct {
	Expected string
	Actual   string
	Msg      string
}

func (e *ReferenceMismatchError) Error() string {
	actual := e.Actual
	if actual == "" {
		actual = "<missing>"
	}
	msg := e.Msg
	if msg == "" {
		msg = "reference mismatch"
	}
	return fmt.Sprintf("%s: bound to %s, data tagged %s", msg, e.Expected, actual)
}

// ConfigurationError reports misuse of a Binding, such as rebinding it
// to a different reference or looking up before binding.
type ConfigurationError struct {
	Msg string
	Err error
}

func configErrf(err error, format string, args ...any) error {
	return &ConfigurationError{fmt.Sprintf(format, args...), err}
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return "configuration: " + e.Msg + ": " + e.Err.Error()
	}
	return "configuration: " + e.Msg
}

func writeMsgAndErr(buf *strings.Builder, msg string, err error) {
	if msg != "" {
		buf.WriteString(": ")
		buf.WriteString(msg)
	}
	if err != nil {
		buf.WriteString(": ")
		buf.WriteString(err.Error())
	}
}
