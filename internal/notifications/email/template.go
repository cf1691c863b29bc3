// Package email renders and delivers the pipeline's outbound emails. The
// three message kinds (feedback request, attendance thank-you, certificate
// issued) are rendered client-side from embedded templates and handed to a
// delivery provider as fully formed content.
package email

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"medevent/internal/types"
)

// RenderedEmail is one fully rendered message body pair plus subject.
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// templateData is the variable set shared by all three templates. Empty
// fields render as conditional blocks, not as blanks.
type templateData struct {
	RecipientName  string
	EventTitle     string
	EventDate      string
	CertificateURL string
}

type emailTemplate struct {
	subject string
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

var templates = map[types.EmailKind]emailTemplate{
	types.EmailFeedbackRequest: {
		subject: "How was %s?",
		html: htmltemplate.Must(htmltemplate.New("feedback_html").Parse(
			`<p>Hi {{.RecipientName}},</p>` +
				`<p>Thank you for attending <strong>{{.EventTitle}}</strong>{{if .EventDate}} on {{.EventDate}}{{end}}.</p>` +
				`<p>We would love to hear your thoughts. Your feedback helps us improve future sessions` +
				`{{if .CertificateURL}} and unlocks your certificate of attendance{{end}}.</p>`)),
		text: texttemplate.Must(texttemplate.New("feedback_text").Parse(
			"Hi {{.RecipientName}},\n\n" +
				"Thank you for attending {{.EventTitle}}{{if .EventDate}} on {{.EventDate}}{{end}}.\n" +
				"We would love to hear your thoughts about the session.\n")),
	},
	types.EmailAttendanceThankYou: {
		subject: "Thank you for attending %s",
		html: htmltemplate.Must(htmltemplate.New("thankyou_html").Parse(
			`<p>Hi {{.RecipientName}},</p>` +
				`<p>Thank you for attending <strong>{{.EventTitle}}</strong>{{if .EventDate}} on {{.EventDate}}{{end}}. We hope to see you again soon.</p>`)),
		text: texttemplate.Must(texttemplate.New("thankyou_text").Parse(
			"Hi {{.RecipientName}},\n\n" +
				"Thank you for attending {{.EventTitle}}{{if .EventDate}} on {{.EventDate}}{{end}}. We hope to see you again soon.\n")),
	},
	types.EmailCertificateIssued: {
		subject: "Your certificate for %s",
		html: htmltemplate.Must(htmltemplate.New("certificate_html").Parse(
			`<p>Hi {{.RecipientName}},</p>` +
				`<p>Your certificate of attendance for <strong>{{.EventTitle}}</strong> is ready.</p>` +
				`<p><a href="{{.CertificateURL}}">Download your certificate</a></p>`)),
		text: texttemplate.Must(texttemplate.New("certificate_text").Parse(
			"Hi {{.RecipientName}},\n\n" +
				"Your certificate of attendance for {{.EventTitle}} is ready:\n{{.CertificateURL}}\n")),
	},
}

// Render produces the subject and both bodies for one dispatch.
func Render(msg types.EmailMessage) (*RenderedEmail, error) {
	tpl, ok := templates[msg.Kind]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("no template registered for email kind %q", msg.Kind), nil)
	}

	data := templateData{
		RecipientName:  msg.RecipientName,
		EventTitle:     msg.EventTitle,
		EventDate:      msg.EventDate,
		CertificateURL: msg.CertificateURL,
	}
	if data.RecipientName == "" {
		data.RecipientName = "there"
	}

	var html bytes.Buffer
	if err := tpl.html.Execute(&html, data); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("failed to render %s html body", msg.Kind), err)
	}
	var text bytes.Buffer
	if err := tpl.text.Execute(&text, data); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("failed to render %s text body", msg.Kind), err)
	}

	return &RenderedEmail{
		Subject:  fmt.Sprintf(tpl.subject, msg.EventTitle),
		BodyHTML: html.String(),
		BodyText: text.String(),
	}, nil
}
