package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanMarkdown(t *testing.T) {
	assert.Equal(t, "# Title", CleanMarkdown("```markdown\n# Title\n```"))
	assert.Equal(t, "# Title", CleanMarkdown("  # Title \n"))
}

func TestMarkdownToHTML_Tables(t *testing.T) {
	out, err := MarkdownToHTML("| Investor | Amount |\n|---|---:|\n| A | 600,000.00 |\n")
	require.NoError(t, err)
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<td>A</td>")
	assert.Contains(t, out, "600,000.00")
}
