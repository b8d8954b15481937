package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

// ConfirmationData fills the contact confirmation email.
type ConfirmationData struct {
	Name        string
	LeadID      string
	Service     string
	Phone       string
	Message     string
	WhatsAppURL string
}

type confirmationEmailData struct {
	Title   string
	Heading string
	ConfirmationData
}

// RenderConfirmation renders the HTML confirmation email.
func RenderConfirmation(data ConfirmationData) (string, error) {
	return renderEmailTemplate("confirmation.html", confirmationEmailData{
		Title:            "Confirmación de contacto",
		Heading:          "¡Gracias por contactarnos!",
		ConfirmationData: data,
	})
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}
