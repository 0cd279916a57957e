// Package bids extracts subject and run identity from BIDS-style file and
// directory names.
package bids

import (
	"path/filepath"
	"regexp"
	"strings"
)

// SubjectPrefix is the entity prefix carried by every subject directory.
const SubjectPrefix = "sub-"

var (
	subjectDirPattern = regexp.MustCompile(`^sub-[a-zA-Z0-9]+$`)

	runIdentityPattern = regexp.MustCompile(
		`^sub-(?P<subject_id>[a-zA-Z0-9]+)` +
			`(_ses-(?P<session_id>[a-zA-Z0-9]+))?` +
			`(_task-(?P<task_id>[a-zA-Z0-9]+))?` +
			`(_acq-(?P<acq_id>[a-zA-Z0-9]+))?` +
			`(_rec-(?P<rec_id>[a-zA-Z0-9]+))?` +
			`(_run-(?P<run_id>[a-zA-Z0-9]+))?`)
)

// entity describes one optional run entity in key/title order.
type entity struct {
	group string
	tag   string
	label string
}

var runEntities = []entity{
	{group: "session_id", tag: "ses", label: "Session"},
	{group: "task_id", tag: "task", label: "Task"},
	{group: "acq_id", tag: "acq", label: "Acquisition"},
	{group: "rec_id", tag: "rec", label: "Reconstruction"},
	{group: "run_id", tag: "run", label: "Run"},
}

// IsSubjectDir reports whether name is a subject directory name such as "sub-01".
func IsSubjectDir(name string) bool {
	return subjectDirPattern.MatchString(name)
}

// SubjectLabel strips the "sub-" prefix from a subject directory name.
func SubjectLabel(subject string) string {
	return strings.TrimPrefix(subject, SubjectPrefix)
}

// RunIdentity is the tuple of BIDS entities that identifies one acquisition
// run. Empty fields are absent entities.
type RunIdentity struct {
	Subject        string
	Session        string
	Task           string
	Acquisition    string
	Reconstruction string
	Run            string
}

// ParseRunIdentity derives the run identity from the basename of path. It
// returns false when the basename does not start with a subject entity.
func ParseRunIdentity(path string) (RunIdentity, bool) {
	base := filepath.Base(path)
	m := runIdentityPattern.FindStringSubmatch(base)
	if m == nil {
		return RunIdentity{}, false
	}
	values := make(map[string]string, len(runEntities)+1)
	for i, name := range runIdentityPattern.SubexpNames() {
		if name != "" {
			values[name] = m[i]
		}
	}
	return RunIdentity{
		Subject:        values["subject_id"],
		Session:        values["session_id"],
		Task:           values["task_id"],
		Acquisition:    values["acq_id"],
		Reconstruction: values["rec_id"],
		Run:            values["run_id"],
	}, true
}

func (r RunIdentity) value(group string) string {
	switch group {
	case "session_id":
		return r.Session
	case "task_id":
		return r.Task
	case "acq_id":
		return r.Acquisition
	case "rec_id":
		return r.Reconstruction
	case "run_id":
		return r.Run
	}
	return ""
}

// Key concatenates the present entities as "_<tag>-<value>", e.g.
// "_ses-A_task-rest_run-2". The subject is not part of the key.
func (r RunIdentity) Key() string {
	var b strings.Builder
	for _, e := range runEntities {
		if v := r.value(e.group); v != "" {
			b.WriteString("_" + e.tag + "-" + v)
		}
	}
	return b.String()
}

// Title renders the present entities as " Session: A Task: rest Run: 2".
func (r RunIdentity) Title() string {
	var b strings.Builder
	for _, e := range runEntities {
		if v := r.value(e.group); v != "" {
			b.WriteString(" " + e.label + ": " + v)
		}
	}
	return b.String()
}

// RunKeyAndTitle is a convenience wrapper returning the key and title for
// path. ok is false when no identity could be derived.
func RunKeyAndTitle(path string) (key, title string, ok bool) {
	id, ok := ParseRunIdentity(path)
	if !ok {
		return "", "", false
	}
	return id.Key(), id.Title(), true
}
