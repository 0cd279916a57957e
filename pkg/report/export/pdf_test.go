package export_test

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motcorr/qcreport/pkg/report/export"
)

func TestNewPDFExporter_Defaults(t *testing.T) {
	e := export.NewPDFExporter(nil, "", 0, nil)
	assert.Equal(t, export.DefaultTimeout, e.Timeout())

	e = export.NewPDFExporter(afero.NewMemMapFs(), "/usr/bin/chromium", 5*time.Second, nil)
	assert.Equal(t, 5*time.Second, e.Timeout())
}

func TestExport_MissingSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := export.NewPDFExporter(fs, "", time.Second, nil)

	err := e.Export(context.Background(), "/out/sub-01.html", "/out/sub-01.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, export.ErrSourceMissing)

	exists, _ := afero.Exists(fs, "/out/sub-01.pdf")
	assert.False(t, exists)
}
