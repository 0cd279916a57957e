package crash_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/motcorr/qcreport/pkg/report/crash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func sampleRecord() crash.Record {
	return crash.Record{
		Traceback: []string{"Traceback (most recent call last):\n  File \"x.py\", line 1\n", "RuntimeError: boom\n"},
		Node: &crash.Node{
			Name:      "ants_hmc",
			FullName:  "motcorr_wf.ants_hmc",
			BaseDir:   "/work",
			OutputDir: "/work/motcorr_wf/ants_hmc",
			Inputs:    map[string]any{"in_file": "bold.nii.gz", "num_threads": int64(4)},
		},
	}
}

func gz(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestJSONDecoder(t *testing.T) {
	raw, err := json.Marshal(sampleRecord())
	require.NoError(t, err)

	for name, payload := range map[string][]byte{"plain": raw, "gzip": gz(t, raw)} {
		t.Run(name, func(t *testing.T) {
			rec, err := crash.JSONDecoder{}.Decode(context.Background(), payload)
			require.NoError(t, err)
			require.NotNil(t, rec.Node)
			assert.Equal(t, "motcorr_wf.ants_hmc", rec.Node.DisplayName())
			assert.Len(t, rec.Traceback, 2)
		})
	}
}

func TestJSONDecoder_Invalid(t *testing.T) {
	_, err := crash.JSONDecoder{}.Decode(context.Background(), []byte("not json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, crash.ErrDecode))
}

func TestMsgpackDecoder(t *testing.T) {
	raw, err := msgpack.Marshal(sampleRecord())
	require.NoError(t, err)

	rec, err := crash.MsgpackDecoder{}.Decode(context.Background(), gz(t, raw))
	require.NoError(t, err)
	require.NotNil(t, rec.Node)
	assert.Equal(t, "/work/motcorr_wf/ants_hmc", rec.Node.OutputDir)
}

func TestChainDecoder(t *testing.T) {
	raw, err := msgpack.Marshal(sampleRecord())
	require.NoError(t, err)

	dec, err := crash.NewDecoder(crash.FormatAuto)
	require.NoError(t, err)
	rec, err := dec.Decode(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "ants_hmc", rec.Node.Name)

	_, err = dec.Decode(context.Background(), []byte{0xc1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, crash.ErrUnsupportedFormat))
	assert.True(t, errors.Is(err, crash.ErrDecode))
}

func TestNewDecoder_Unknown(t *testing.T) {
	_, err := crash.NewDecoder("pickle")
	assert.True(t, errors.Is(err, crash.ErrUnsupportedFormat))

	_, err = crash.NewDecoder(crash.FormatExec)
	assert.Error(t, err)
}

func TestRecordLines(t *testing.T) {
	lines := sampleRecord().Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"Traceback (most recent call last):", "  File \"x.py\", line 1"}, lines[0])
	assert.Equal(t, []string{"RuntimeError: boom"}, lines[1])
}

func TestNodeDisplayName(t *testing.T) {
	var n *crash.Node
	assert.Empty(t, n.DisplayName())
	assert.Equal(t, "short", (&crash.Node{Name: "short"}).DisplayName())
}
