package email

import (
	"html/template"
	"os"
	"path/filepath"
	texttpl "text/template"
)

type Templates struct {
	ConflictHTML *template.Template
	ConflictTXT  *texttpl.Template
}

// DiffRow es una fila del diff renderizada en el email.
type DiffRow struct {
	Field  string
	Source string
	Target string
}

type ConflictVars struct {
	ConflictID string
	Table      string
	RecordID   string
	Origin     string
	Target     string
	Reason     string
	Link       string
	TTL        string
	Diff       []DiffRow
}

const defaultConflictHTML = `<html>
<body>
<h2>Conflicto de sincronización</h2>
<p>Las réplicas <b>{{.Origin}}</b> y <b>{{.Target}}</b> modificaron el
registro <b>{{.Table}}#{{.RecordID}}</b> de forma concurrente ({{.Reason}}).</p>
{{if .Diff}}
<table border="1" cellpadding="4">
<tr><th>Campo</th><th>{{.Origin}}</th><th>{{.Target}}</th></tr>
{{range .Diff}}<tr><td>{{.Field}}</td><td>{{.Source}}</td><td>{{.Target}}</td></tr>
{{end}}</table>
{{end}}
<p><a href="{{.Link}}">Revisar y resolver el conflicto</a></p>
<p>El link es de un solo uso y vence en {{.TTL}}.</p>
</body>
</html>`

const defaultConflictTXT = `Conflicto de sincronización

Las réplicas {{.Origin}} y {{.Target}} modificaron el registro
{{.Table}}#{{.RecordID}} de forma concurrente ({{.Reason}}).
{{range .Diff}}
  {{.Field}}: {{.Source}} ({{$.Origin}}) vs {{.Target}} ({{$.Target}})
{{- end}}

Revisar y resolver: {{.Link}}

El link es de un solo uso y vence en {{.TTL}}.`

// LoadTemplates carga los templates desde dir; si dir está vacío usa
// los templates embebidos por defecto.
func LoadTemplates(dir string) (*Templates, error) {
	htmlSrc, txtSrc := defaultConflictHTML, defaultConflictTXT

	if dir != "" {
		if b, err := os.ReadFile(filepath.Join(dir, "conflict_notice.html")); err == nil {
			htmlSrc = string(b)
		}
		if b, err := os.ReadFile(filepath.Join(dir, "conflict_notice.txt")); err == nil {
			txtSrc = string(b)
		}
	}

	ch, err := template.New("conflict_html").Parse(htmlSrc)
	if err != nil {
		return nil, err
	}
	ct, err := texttpl.New("conflict_txt").Parse(txtSrc)
	if err != nil {
		return nil, err
	}
	return &Templates{ConflictHTML: ch, ConflictTXT: ct}, nil
}
