package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t any, layout string) string {
			switch v := t.(type) {
			case time.Time:
				return v.Format(layout)
			case *time.Time:
				if v == nil {
					return ""
				}
				return v.Format(layout)
			default:
				return ""
			}
		},
	}

	templateContent, err := templateFS.ReadFile("templates/report.html")
	if err != nil {
		reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(string(templateContent)))
}

// RenderReportHTML renders the progress report template with provided data
func RenderReportHTML(data ReportData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Progress Report</title>
</head>
<body>
  <h1>Progress Report for {{.UserName}}</h1>
  <p>{{.CompletedGoals}} of {{.TotalGoals}} goals completed</p>
  {{range .Categories}}<h2>{{.Name}}</h2>
  <ul>{{range .Goals}}<li>{{.Title}} ({{.MilestonesDone}}/{{.MilestonesTotal}})</li>{{end}}</ul>{{end}}
</body>
</html>`
