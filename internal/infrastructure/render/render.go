// Package render produces the self-contained HTML digest document.
package render

import (
	"bytes"
	"fmt"
	"html/template"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// Renderer renders ranked items into one HTML document. All dynamic
// content goes through html/template's contextual escaping, so the output
// is safe to embed verbatim in any HTML viewer.
type Renderer struct {
	tmpl *template.Template
}

var _ ports.Renderer = (*Renderer)(nil)

// New parses the digest template once.
func New() *Renderer {
	return &Renderer{tmpl: template.Must(template.New("digest").Parse(digestTemplate))}
}

type itemView struct {
	Priority int
	Source   string
	Title    string
	Summary  string
	Link     string
	HasScore bool
	Score    float64
}

type digestView struct {
	Date   string
	Count  int
	Scored bool
	Items  []itemView
}

// Render executes the template over the ranked digest items, preserving
// their order.
func (r *Renderer) Render(digest domain.Digest) (string, error) {
	view := digestView{
		Date:   digest.GeneratedAt.Format("02.01.2006"),
		Count:  len(digest.Items),
		Scored: digest.Scored,
	}
	for _, item := range digest.Items {
		iv := itemView{
			Priority: item.Priority,
			Source:   item.SourceName,
			Title:    item.Title,
			Summary:  item.Preview,
			Link:     item.Link,
		}
		if item.ArticleText != "" {
			iv.Summary = item.ArticleText
		}
		if item.Score != nil {
			iv.HasScore = true
			iv.Score = *item.Score
		}
		view.Items = append(view.Items, iv)
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render digest: %w", err)
	}
	return buf.String(), nil
}

const digestTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Newsletter Digest - {{.Date}}</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
       line-height: 1.6; max-width: 800px; margin: 0 auto; padding: 20px;
       background-color: #f5f5f5; }
.container { background-color: white; padding: 30px; border-radius: 8px;
             box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
h1 { color: #333; border-bottom: 3px solid #007bff; padding-bottom: 10px; }
.item { margin-bottom: 30px; padding: 20px; background-color: #fafafa;
        border-left: 4px solid #007bff; border-radius: 4px; }
.item.priority-1 { border-left-color: #dc3545; background-color: #fff5f5; }
.item.priority-2 { border-left-color: #ffc107; background-color: #fffbf0; }
.item.priority-3 { border-left-color: #28a745; background-color: #f0fff4; }
.item h2 { margin-top: 0; color: #007bff; }
.item .source { color: #666; font-size: 0.9em; margin-bottom: 10px; }
.item .priority { display: inline-block; padding: 2px 8px; border-radius: 3px;
                  font-size: 0.85em; font-weight: bold; margin-right: 10px; }
.priority-1 .priority { background-color: #dc3545; color: white; }
.priority-2 .priority { background-color: #ffc107; color: #333; }
.priority-3 .priority { background-color: #28a745; color: white; }
.item .summary { margin: 15px 0; color: #555; }
.item a { color: #007bff; text-decoration: none; font-weight: 500; }
.ai-badge { display: inline-block; background-color: #6f42c1; color: white;
            padding: 2px 8px; border-radius: 3px; font-size: 0.85em;
            margin-left: 10px; }
.footer { margin-top: 40px; padding-top: 20px; border-top: 1px solid #ddd;
          text-align: center; color: #666; font-size: 0.9em; }
</style>
</head>
<body>
<div class="container">
<h1>&#128236; Newsletter Digest - {{.Date}}</h1>
<p>{{.Count}} new item{{if ne .Count 1}}s{{end}}{{if .Scored}} (AI-ranked){{end}}</p>
{{range .Items}}
<div class="item priority-{{.Priority}}">
  <div class="source">
    <span class="priority">Priority {{.Priority}}</span>
    <strong>{{.Source}}</strong>
    {{if .HasScore}}<span class="ai-badge">AI score: {{printf "%.2f" .Score}}</span>{{end}}
  </div>
  <h2>{{.Title}}</h2>
  <div class="summary">{{.Summary}}</div>
  {{if .Link}}<a href="{{.Link}}" target="_blank">Read the full article &#8594;</a>{{end}}
</div>
{{end}}
<div class="footer">
<p>Generated automatically &middot; Newsletter Digest</p>
</div>
</div>
</body>
</html>
`
