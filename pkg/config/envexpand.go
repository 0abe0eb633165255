package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go templates.
// Uses {{.VAR_NAME}} syntax so that literal $ characters survive untouched.
//
// Team instructions and termination patterns routinely contain $ (regex
// anchors, shell fragments quoted in prompts), which rules out shell-style
// ${VAR} expansion.
//
// Examples:
//   - {{.OPENAI_API_KEY}} → value of OPENAI_API_KEY
//   - {{.KVS_HOST}}:{{.KVS_PORT}} → hostname:port with both variables expanded
//   - pattern: "^done$" → preserved literally
//
// Missing variables expand to empty string; validation catches required
// fields left empty. On template parse or execution errors the original
// bytes pass through so the YAML parser can produce its own diagnostics.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		if key, value, ok := strings.Cut(env, "="); ok && key != "" {
			envMap[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}
	return buf.Bytes()
}
