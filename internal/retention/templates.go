package retention

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// templateData holds the substitutions available to drip messages.
type templateData struct {
	FirstName string
	SetupURL  string
}

var stepSubjects = map[int]string{
	1: "5 days left in your ShineHQ trial",
	2: "Your booking page is almost ready",
	3: "Your ShineHQ trial ends tomorrow",
}

var stepTemplates = map[int]*template.Template{
	1: template.Must(template.New("step1").Parse(
		`Hi {{.FirstName}}! Your ShineHQ trial has 5 days left. Finish setting up your booking page so customers can start scheduling details: {{.SetupURL}}`)),
	2: template.Must(template.New("step2").Parse(
		`{{.FirstName}}, detailers who publish their booking page keep 3x more trial customers. Yours takes about 2 minutes to finish: {{.SetupURL}}`)),
	3: template.Must(template.New("step3").Parse(
		`Last call, {{.FirstName}} — your ShineHQ trial ends tomorrow. Publish your page now so you don't lose your setup: {{.SetupURL}}`)),
}

// renderStep renders the subject and body for a drip step. The subject is
// ignored on the SMS channel.
func renderStep(step int, data templateData) (subject, body string, err error) {
	tmpl, ok := stepTemplates[step]
	if !ok {
		return "", "", fmt.Errorf("no template for retention step %d", step)
	}
	if strings.TrimSpace(data.FirstName) == "" {
		data.FirstName = "there"
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render retention step %d: %w", step, err)
	}
	return stepSubjects[step], buf.String(), nil
}
