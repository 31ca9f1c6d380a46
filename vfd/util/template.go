package util

import (
	"bytes"
	"encoding/base64"
	"strings"
	"text/template"
)

var funcMap = template.FuncMap{
	"base64": base64.StdEncoding.EncodeToString,
	"upper":  strings.ToUpper,
}

// MergeTemplate executes tpl against model, e.g. "TIN: {{.TIN}}".
func MergeTemplate(tpl string, model any) ([]byte, error) {
	tmpl, err := template.New("line").Funcs(funcMap).Option("missingkey=error").Parse(tpl)
	if err != nil {
		return nil, err
	}

	var output bytes.Buffer
	if err := tmpl.Execute(&output, model); err != nil {
		return nil, err
	}
	return output.Bytes(), nil
}

// MergeLines renders every line template of tpls against model.
func MergeLines(tpls []string, model any) ([]string, error) {
	out := make([]string, 0, len(tpls))
	for _, t := range tpls {
		b, err := MergeTemplate(t, model)
		if err != nil {
			return nil, err
		}
		out = append(out, string(b))
	}
	return out, nil
}
