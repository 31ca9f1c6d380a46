package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeTemplate(t *testing.T) {

	out, err := MergeTemplate("TIN: {{.TIN}} {{upper .Name}}", map[string]any{"TIN": "109272930", "Name": "duka"})
	require.NoError(t, err)
	assert.Equal(t, "TIN: 109272930 DUKA", string(out))

	_, err = MergeTemplate("{{.Missing}}", map[string]any{})
	assert.Error(t, err)
}

func TestMergeLines(t *testing.T) {

	lines, err := MergeLines([]string{"REGID {{.RegID}}", "plain"}, struct{ RegID string }{"TZ0100553"})
	require.NoError(t, err)
	assert.Equal(t, []string{"REGID TZ0100553", "plain"}, lines)

	_, err = MergeLines([]string{"{{.RegID"}, nil)
	assert.Error(t, err)
}
