package utils

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithUnsafe()),
)

// CleanMarkdown strips surrounding whitespace and an outer code fence.
func CleanMarkdown(input string) string {
	cleaned := strings.TrimSpace(input)
	for _, fence := range []string{"```markdown", "```"} {
		if strings.HasPrefix(cleaned, fence) && strings.HasSuffix(cleaned, "```") && len(cleaned) >= len(fence)+3 {
			cleaned = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(cleaned, fence), "```"))
			break
		}
	}
	return cleaned
}

// MarkdownToHTML renders GitHub-flavored Markdown, tables included.
func MarkdownToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(CleanMarkdown(md)), &buf); err != nil {
		return "", fmt.Errorf("MARKDOWN_RENDER_FAILED: %v", err)
	}
	return buf.String(), nil
}
