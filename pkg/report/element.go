package report

import (
	"fmt"
	"regexp"
)

// FileContent is one reportlet matched by an Element: its full path, its
// content with the first line removed, and a display kind ("svg", "html").
type FileContent struct {
	Path    string
	Content string
	Kind    string
}

// Element is a named reportlet slot. FilePattern is searched (not anchored)
// against the full path of every walked file.
type Element struct {
	Name          string
	FilePattern   *regexp.Regexp
	Title         string
	Description   string
	FilesContents []FileContent
}

// NewElement compiles the element's pattern. A malformed pattern is a
// configuration error.
func NewElement(spec ElementSpec) (*Element, error) {
	re, err := regexp.Compile(spec.FilePattern)
	if err != nil {
		return nil, fmt.Errorf("%w: element %q: bad file_pattern %q: %w", ErrConfigValidation, spec.Name, spec.FilePattern, err)
	}
	return &Element{
		Name:        spec.Name,
		FilePattern: re,
		Title:       spec.Title,
		Description: spec.Description,
	}, nil
}

// Matches reports whether the pattern occurs anywhere in path.
func (e *Element) Matches(path string) bool {
	return e.FilePattern.MatchString(path)
}

// Add appends a matched reportlet in discovery order.
func (e *Element) Add(fc FileContent) {
	e.FilesContents = append(e.FilesContents, fc)
}

// Reset drops all matched reportlets.
func (e *Element) Reset() {
	e.FilesContents = nil
}

// withSingleFile copies the element's descriptive fields around one reportlet.
func (e *Element) withSingleFile(fc FileContent) *Element {
	return &Element{
		Name:          e.Name,
		FilePattern:   e.FilePattern,
		Title:         e.Title,
		Description:   e.Description,
		FilesContents: []FileContent{fc},
	}
}
