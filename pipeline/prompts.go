package pipeline

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

type storyPrompt struct {
	UserStory string
	Analysis  string
}

type planReportPrompt struct {
	UserStory string
	Overview  string
	Cases     string
	Shown     int
	Total     int
}

// render executes the template for node with data.
func render(node string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, node+".tmpl", data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", node, err)
	}
	return buf.String(), nil
}
