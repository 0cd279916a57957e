// Package testutil provides testify mocks for the interfaces injected
// through report.Options, plus small filesystem helpers for tests.
package testutil

import (
	"context"
	"html/template"
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/motcorr/qcreport/pkg/report"
	"github.com/motcorr/qcreport/pkg/report/crash"
	"github.com/motcorr/qcreport/pkg/report/encoding"
	"github.com/motcorr/qcreport/pkg/report/language"
	tpl "github.com/motcorr/qcreport/pkg/report/template"
)

var (
	_ report.CacheManager      = (*MockCacheManager)(nil)
	_ report.Hooks             = (*MockHooks)(nil)
	_ report.Exporter          = (*MockExporter)(nil)
	_ crash.Decoder            = (*MockCrashDecoder)(nil)
	_ encoding.EncodingHandler = (*MockEncodingHandler)(nil)
	_ language.KindDetector    = (*MockKindDetector)(nil)
	_ tpl.TemplateExecutor     = (*MockTemplateExecutor)(nil)
)

// MockCacheManager mocks report.CacheManager. Batch workers call Check and
// Update concurrently; testify's Called is safe for that.
type MockCacheManager struct {
	mock.Mock
}

// Load mocks the Load method.
func (m *MockCacheManager) Load(cachePath string) error {
	args := m.Called(cachePath)
	return args.Error(0)
}

// Check mocks the Check method.
func (m *MockCacheManager) Check(subject, fingerprint string) (isHit bool, outputHash string) {
	args := m.Called(subject, fingerprint)
	isHit, _ = args.Get(0).(bool)
	outputHash, _ = args.Get(1).(string)
	return
}

// Update mocks the Update method.
func (m *MockCacheManager) Update(subject, fingerprint, outputHash string) error {
	args := m.Called(subject, fingerprint, outputHash)
	return args.Error(0)
}

// Persist mocks the Persist method.
func (m *MockCacheManager) Persist(cachePath string) error {
	args := m.Called(cachePath)
	return args.Error(0)
}

// MockHooks mocks report.Hooks.
type MockHooks struct {
	mock.Mock
}

// OnSubjectDiscovered mocks the OnSubjectDiscovered method.
func (m *MockHooks) OnSubjectDiscovered(subject string) error {
	args := m.Called(subject)
	return args.Error(0)
}

// OnSubjectStatusUpdate mocks the OnSubjectStatusUpdate method.
func (m *MockHooks) OnSubjectStatusUpdate(subject string, status report.Status, message string, duration time.Duration) error {
	args := m.Called(subject, status, message, duration)
	return args.Error(0)
}

// OnRunComplete mocks the OnRunComplete method.
func (m *MockHooks) OnRunComplete(summary report.RunSummary) error {
	args := m.Called(summary)
	return args.Error(0)
}

// MockCrashDecoder mocks crash.Decoder.
type MockCrashDecoder struct {
	mock.Mock
}

// Decode mocks the Decode method.
func (m *MockCrashDecoder) Decode(ctx context.Context, data []byte) (crash.Record, error) {
	args := m.Called(ctx, data)
	rec, _ := args.Get(0).(crash.Record)
	return rec, args.Error(1)
}

// MockEncodingHandler mocks encoding.EncodingHandler.
type MockEncodingHandler struct {
	mock.Mock
}

// DetectAndDecode mocks the DetectAndDecode method.
func (m *MockEncodingHandler) DetectAndDecode(content []byte) (utf8Content []byte, detectedEncoding string, certainty bool, err error) {
	args := m.Called(content)
	utf8Content, _ = args.Get(0).([]byte)
	detectedEncoding, _ = args.Get(1).(string)
	certainty, _ = args.Get(2).(bool)
	err = args.Error(3)
	return
}

// IsBinary mocks the IsBinary method.
func (m *MockEncodingHandler) IsBinary(content []byte) bool {
	args := m.Called(content)
	return args.Bool(0)
}

// MockKindDetector mocks language.KindDetector.
type MockKindDetector struct {
	mock.Mock
}

// Detect mocks the Detect method.
func (m *MockKindDetector) Detect(content []byte, filePath string) string {
	args := m.Called(content, filePath)
	return args.String(0)
}

// MockTemplateExecutor mocks tpl.TemplateExecutor. When the expectation
// returns a string as its second value, it is written to the writer.
type MockTemplateExecutor struct {
	mock.Mock
}

// Execute mocks the Execute method.
func (m *MockTemplateExecutor) Execute(writer io.Writer, tmpl *template.Template, data any) error {
	args := m.Called(writer, tmpl, data)
	if len(args) > 1 {
		if out, ok := args.Get(1).(string); ok {
			if _, err := io.WriteString(writer, out); err != nil {
				return err
			}
		}
	}
	return args.Error(0)
}

// MockExporter mocks report.Exporter.
type MockExporter struct {
	mock.Mock
}

// Export mocks the Export method.
func (m *MockExporter) Export(ctx context.Context, htmlPath, outPath string) error {
	args := m.Called(ctx, htmlPath, outPath)
	return args.Error(0)
}
