package render

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html/template"

	"watchbill/internal/domain"
)

// Renderer produces distributable artifacts from an export document. HTML and
// email exports share one template; PDF goes through its own layout.
type Renderer struct {
	tmpl *template.Template
}

func New() (*Renderer, error) {
	tmpl, err := template.New("handover").Parse(handoverTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse handover template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

func (r *Renderer) Render(doc domain.ExportDocument, exportType string) ([]byte, string, string, error) {
	var data []byte
	var ext string
	switch exportType {
	case domain.ExportTypePDF:
		b, err := renderPDF(doc)
		if err != nil {
			return nil, "", "", err
		}
		data, ext = b, "pdf"
	case domain.ExportTypeHTML, domain.ExportTypeEmail:
		var buf bytes.Buffer
		if err := r.tmpl.Execute(&buf, doc); err != nil {
			return nil, "", "", fmt.Errorf("render draft %s: %w", doc.DraftID, err)
		}
		data, ext = buf.Bytes(), "html"
	default:
		return nil, "", "", fmt.Errorf("unknown export type %q", exportType)
	}
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), ext, nil
}

const handoverTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Handover {{.PeriodStart}} to {{.PeriodEnd}}</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem auto; max-width: 52rem; color: #1a1a2e; }
h1 { font-size: 1.4rem; border-bottom: 2px solid #1a1a2e; padding-bottom: .4rem; }
h2 { font-size: 1.1rem; margin-top: 1.6rem; }
.meta { color: #555; font-size: .85rem; }
.item { margin: .6rem 0; padding: .5rem .8rem; border-left: 3px solid #ccc; }
.item.critical { border-left-color: #c0392b; background: #fdf0ee; }
.critical-tag { color: #c0392b; font-weight: 600; font-size: .75rem; text-transform: uppercase; }
.links a { font-size: .8rem; margin-right: .8rem; }
.hash { font-family: monospace; font-size: .7rem; color: #888; word-break: break-all; }
</style>
</head>
<body>
<h1>Handover — {{.PeriodStart}} to {{.PeriodEnd}}</h1>
<p class="meta">Yacht {{.YachtID}}{{if .Department}} · {{.Department}}{{end}}</p>
<p class="meta">Signed out by {{.OutgoingUserID}} at {{.OutgoingSignedAt}}<br>
Signed in by {{.IncomingUserID}} at {{.IncomingSignedAt}}</p>
{{range .Sections}}
<h2>{{.BucketName}}</h2>
{{range .Items}}
<div class="item{{if .IsCritical}} critical{{end}}">
{{if .IsCritical}}<span class="critical-tag">Critical</span> {{end}}{{.SummaryText}}
{{if .Links}}<div class="links">{{range .Links}}<a href="{{.URL}}">{{if .Label}}{{.Label}}{{else}}{{.Kind}}{{end}}</a>{{end}}</div>{{end}}
</div>
{{end}}
{{end}}
<p class="hash">Content hash {{.DocumentHash}}</p>
</body>
</html>
`
