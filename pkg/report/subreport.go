package report

import (
	"sort"

	"github.com/motcorr/qcreport/pkg/bids"
)

// SubReport is a named group of elements. After OrderByRun, RunReports holds
// one child per distinct run identity found among the group's reportlets.
type SubReport struct {
	Name       string
	Title      string
	Elements   []*Element
	RunReports []*SubReport
}

// NewSubReport expands every element spec of the group.
func NewSubReport(spec SubReportSpec) (*SubReport, error) {
	sr := &SubReport{
		Name:     spec.Name,
		Title:    spec.Title,
		Elements: make([]*Element, 0, len(spec.Elements)),
	}
	for _, es := range spec.Elements {
		el, err := NewElement(es)
		if err != nil {
			return nil, err
		}
		sr.Elements = append(sr.Elements, el)
	}
	return sr, nil
}

// OrderByRun repartitions the group's reportlets by run identity.
//
// Files whose basename does not start with a subject entity, or that carry no
// run entity at all, are left out of the partition. Children are sorted by
// key; inside a child, elements follow configuration order and then discovery
// order. RunReports is rebuilt on every call.
func (s *SubReport) OrderByRun() {
	runs := make(map[string]*SubReport)
	for _, el := range s.Elements {
		for _, fc := range el.FilesContents {
			key, title, ok := bids.RunKeyAndTitle(fc.Path)
			if !ok || key == "" {
				continue
			}
			child, exists := runs[key]
			if !exists {
				child = &SubReport{Name: key, Title: title}
				runs[key] = child
			}
			child.Elements = append(child.Elements, el.withSingleFile(fc))
		}
	}

	keys := make([]string, 0, len(runs))
	for k := range runs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s.RunReports = make([]*SubReport, 0, len(keys))
	for _, k := range keys {
		s.RunReports = append(s.RunReports, runs[k])
	}
}

// HasRunReports reports whether repartitioning produced any run.
func (s *SubReport) HasRunReports() bool {
	return len(s.RunReports) > 0
}

// FileCount counts the reportlets matched by the group's own elements.
func (s *SubReport) FileCount() int {
	n := 0
	for _, el := range s.Elements {
		n += len(el.FilesContents)
	}
	return n
}

func (s *SubReport) reset() {
	for _, el := range s.Elements {
		el.Reset()
	}
	s.RunReports = nil
}
