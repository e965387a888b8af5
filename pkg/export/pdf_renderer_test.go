package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPDFRendererRendersLetter(t *testing.T) {
	out, err := NewPDFRenderer().Render(Document{
		Letterhead: "Campus Academics Office",
		Title:      "Leave Approval",
		Reference:  "Ref: leave-1",
		Paragraphs: []string{"Leave approved for Asha (21CS001) from 2024-03-01 to 2024-03-02."},
		Table: &Table{
			Headers: []string{"Subject", "Marks"},
			Rows:    [][]string{{"Mathematics", "91"}, {"Physics"}},
		},
		Signature: "Head of Department",
	})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestPDFRendererRequiresTitle(t *testing.T) {
	_, err := NewPDFRenderer().Render(Document{Paragraphs: []string{"body"}})
	require.Error(t, err)
}
