package core

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"
)

var reportTemplate = template.Must(template.New("drift").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Data drift report</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 4px 10px; }
.drifted { color: #b00020; font-weight: bold; }
</style>
</head>
<body>
<h1>Data drift report</h1>
<p>Generated {{.Generated}}</p>
<p>Drifted columns: {{.Result.DriftedCount}} of {{len .Result.Columns}} (share {{printf "%.2f" .Result.Share}})</p>
<table>
<tr><th>Column</th><th>Method</th><th>Statistic</th><th>Threshold</th><th>Drift</th></tr>
{{range .Result.Columns}}<tr>
<td>{{.Column}}</td><td>{{.Method}}</td><td>{{printf "%.4f" .Statistic}}</td><td>{{printf "%.2f" .Threshold}}</td>
<td{{if .Drifted}} class="drifted"{{end}}>{{if .Drifted}}detected{{else}}not detected{{end}}</td>
</tr>{{end}}
</table>
</body>
</html>
`))

func RenderDriftReport(result DriftResult, generated time.Time) ([]byte, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, map[string]any{
		"Result":    result,
		"Generated": generated.Format(time.RFC3339),
	}); err != nil {
		return nil, fmt.Errorf("error rendering drift report: %w", err)
	}
	return buf.Bytes(), nil
}

func WriteDriftReport(path string, result DriftResult, generated time.Time) error {
	data, err := RenderDriftReport(result, generated)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("error creating report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing drift report: %w", err)
	}
	return nil
}
