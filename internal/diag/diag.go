// Package diag collects and prints compiler diagnostics.
package diag

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Severity orders diagnostics by importance.
type Severity int

const (
	Note Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Note:
		return "note"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Diagnostic is one reported message. Where names the design element the
// message is about (a function, state or signal), if any.
type Diagnostic struct {
	Severity Severity `json:"-"`
	Level    string   `json:"severity"`
	Where    string   `json:"where,omitempty"`
	Message  string   `json:"message"`
}

// Reporter prints diagnostics as they are reported and remembers them.
// Supported formats are "text" and "json".
type Reporter struct {
	mu      sync.Mutex
	w       io.Writer
	format  string
	verbose bool
	diags   []Diagnostic
	errors  int
}

// NewReporter returns a reporter writing to w. A nil writer discards output.
func NewReporter(w io.Writer, format string) *Reporter {
	if w == nil {
		w = io.Discard
	}
	if format != "json" {
		format = "text"
	}
	return &Reporter{w: w, format: format}
}

// SetVerbose enables printing of notes.
func (r *Reporter) SetVerbose(v bool) {
	r.mu.Lock()
	r.verbose = v
	r.mu.Unlock()
}

// Error reports an error attached to where.
func (r *Reporter) Error(where, msg string) {
	r.report(Error, where, msg)
}

// Errorf reports an error without location.
func (r *Reporter) Errorf(format string, args ...interface{}) {
	r.report(Error, "", fmt.Sprintf(format, args...))
}

// Warning reports a warning attached to where.
func (r *Reporter) Warning(where, msg string) {
	r.report(Warning, where, msg)
}

// Notef reports a note; notes are recorded always but printed only when the
// reporter is verbose.
func (r *Reporter) Notef(where, format string, args ...interface{}) {
	r.report(Note, where, fmt.Sprintf(format, args...))
}

// HasErrors reports whether any error was reported.
func (r *Reporter) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors > 0
}

// ErrorCount returns the number of errors reported so far.
func (r *Reporter) ErrorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors
}

// Diagnostics returns a copy of every diagnostic reported so far.
func (r *Reporter) Diagnostics() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Diagnostic, len(r.diags))
	copy(out, r.diags)
	return out
}

func (r *Reporter) report(sev Severity, where, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := Diagnostic{Severity: sev, Level: sev.String(), Where: where, Message: msg}
	r.diags = append(r.diags, d)
	if sev == Error {
		r.errors++
	}
	if sev == Note && !r.verbose {
		return
	}
	r.print(d)
}

func (r *Reporter) print(d Diagnostic) {
	if r.format == "json" {
		data, err := json.Marshal(d)
		if err != nil {
			fmt.Fprintf(r.w, "%s: %s\n", d.Level, d.Message)
			return
		}
		fmt.Fprintf(r.w, "%s\n", data)
		return
	}
	if d.Where != "" {
		fmt.Fprintf(r.w, "%s: %s: %s\n", d.Level, d.Where, d.Message)
		return
	}
	fmt.Fprintf(r.w, "%s: %s\n", d.Level, d.Message)
}
