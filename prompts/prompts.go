package prompts

import (
	"bytes"
	"embed"
	"text/template"
)

//go:embed templates/*
var templatesFS embed.FS

// RenderInstructions executes the configured instruction text as a template
// with named insertion points ({{.DocumentName}}), replacing the old
// search-and-splice substitution.
func RenderInstructions(instructions, documentName string) (string, error) {
	tmpl, err := template.New("instructions").Parse(instructions)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, map[string]string{"DocumentName": documentName})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ComposeUserTurn folds retrieved context into the final user-turn text.
// With no context the user text passes through unchanged.
func ComposeUserTurn(contexts []string, userText string) (string, error) {
	if len(contexts) == 0 {
		return userText, nil
	}

	return loadPrompt("templates/context_user.tmpl", map[string]any{
		"Contexts": contexts,
		"UserText": userText,
	})
}

func loadPrompt(templatePath string, data interface{}) (string, error) {
	tmpl, err := template.ParseFS(templatesFS, templatePath)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", err
	}

	return buf.String(), nil
}
