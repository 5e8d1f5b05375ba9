// Package publish renders release descriptions and upload descriptors.
package publish

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"release-maker/internal/domain"
)

// Renderer builds the release description text.
type Renderer interface {
	Render(ts domain.TaskSettings, opts domain.PublishOptions) (string, error)
}

const builtinTemplate = `[size=5][b]{{.Title}}[/b][/size]
{{- if .Source}}
Source: {{.Source}}
{{- end}}
{{- if .WebLink}}
[url={{.WebLink}}]{{.WebLink}}[/url]
{{- end}}
{{range .Files}}
[b]{{.Name}}[/b]
{{- if .Short}}
{{.Short}}
{{- end}}
{{- if .Complete}}
{{block_text .Complete}}
{{- end}}
{{- range .Screenshots}}
{{image .}}
{{- end}}
{{end}}`

// TemplateRenderer supports the built-in template, external template files and MediaInfo passthrough.
type TemplateRenderer struct{}

func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{}
}

func (r *TemplateRenderer) Render(ts domain.TaskSettings, opts domain.PublishOptions) (string, error) {
	data := newTemplateData(ts)

	var (
		text string
		err  error
	)
	switch opts.Type {
	case domain.PublishTypeMediaInfo:
		text = renderMediaInfo(data, opts)
	case domain.PublishTypeExternal:
		text, err = renderExternal(data, opts)
	default:
		text, err = execute("builtin", builtinTemplate, data, opts)
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if opts.AlignCenter {
		text = "[center]" + text + "[/center]"
	}
	return text, nil
}

var _ Renderer = (*TemplateRenderer)(nil)

type templateData struct {
	Title     string
	MediaName string
	Source    string
	WebLink   string
	MediaType domain.MediaType
	Files     []fileData
}

type fileData struct {
	Name        string
	Short       string
	Complete    string
	Screenshots []domain.ScreenshotInfo
}

func newTemplateData(ts domain.TaskSettings) templateData {
	m := ts.Media
	data := templateData{
		Title:     m.DisplayTitle(),
		MediaName: m.Name(),
		Source:    m.Source,
		WebLink:   m.WebLink,
		MediaType: m.Type,
	}
	files := m.Files
	if m.Type == domain.MediaTypeDisc && m.Overall != nil {
		files = []domain.MediaFile{*m.Overall}
	}
	for _, mf := range files {
		data.Files = append(data.Files, fileData{
			Name:        mf.FileName(),
			Short:       mf.ShortSummary,
			Complete:    mf.CompleteSummary,
			Screenshots: mf.Screenshots,
		})
	}
	return data
}

func funcs(opts domain.PublishOptions) template.FuncMap {
	return template.FuncMap{
		"image": func(s domain.ScreenshotInfo) string {
			return imageTag(s, opts.FullPicture)
		},
		"block_text": func(s string) string {
			return blockText(s, opts.PreformattedText)
		},
	}
}

func execute(name, body string, data templateData, opts domain.PublishOptions) (string, error) {
	tmpl, err := template.New(name).Funcs(funcs(opts)).Parse(body)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

func renderExternal(data templateData, opts domain.PublishOptions) (string, error) {
	if strings.TrimSpace(opts.TemplatePath) == "" {
		return "", fmt.Errorf("external template path is not configured")
	}
	body, err := os.ReadFile(opts.TemplatePath)
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}
	return execute(filepath.Base(opts.TemplatePath), string(body), data, opts)
}

func renderMediaInfo(data templateData, opts domain.PublishOptions) string {
	var b strings.Builder
	for i, f := range data.Files {
		if i > 0 {
			b.WriteString("\n\n")
		}
		summary := f.Complete
		if summary == "" {
			summary = f.Short
		}
		b.WriteString(blockText(summary, opts.PreformattedText))
		for _, s := range f.Screenshots {
			if line := imageTag(s, opts.FullPicture); line != "" {
				b.WriteString("\n")
				b.WriteString(line)
			}
		}
	}
	return b.String()
}

func imageTag(s domain.ScreenshotInfo, full bool) string {
	if !s.Uploaded() {
		return ""
	}
	if full || s.ThumbnailURL == "" {
		return fmt.Sprintf("[img]%s[/img]", s.FullImageURL)
	}
	return fmt.Sprintf("[url=%s][img]%s[/img][/url]", s.FullImageURL, s.ThumbnailURL)
}

func blockText(s string, pre bool) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	if pre {
		return "[pre]" + s + "[/pre]"
	}
	return "[quote]" + s + "[/quote]"
}
