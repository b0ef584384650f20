package email

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

var layout = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #1f4e79;">{{.Title}}</h2>
  {{range .Paragraphs}}<p>{{.}}</p>
  {{end}}{{if .Code}}<p style="font-family: monospace; font-size: 18px; background: #f3f3f3; padding: 10px;">{{.Code}}</p>
  {{end}}{{if .Link}}<p><a href="{{.Link}}" style="background-color: #1f4e79; color: white; padding: 10px 20px; text-decoration: none; border-radius: 4px;">{{.LinkText}}</a></p>
  {{end}}<hr>
  <p style="color: #666; font-size: 12px;">{{.AppName}}</p>
</body>
</html>`))

type content struct {
	AppName    string
	Title      string
	Paragraphs []string
	Code       string
	Link       string
	LinkText   string
}

func render(to, subject string, c content) (Message, error) {
	var html bytes.Buffer
	if err := layout.Execute(&html, c); err != nil {
		return Message{}, fmt.Errorf("failed to render email: %w", err)
	}

	lines := append([]string{c.Title, ""}, c.Paragraphs...)
	if c.Code != "" {
		lines = append(lines, "", "    "+c.Code)
	}
	if c.Link != "" {
		lines = append(lines, "", c.LinkText+": "+c.Link)
	}
	lines = append(lines, "", "-- "+c.AppName)

	return Message{
		To:      to,
		Subject: subject,
		Text:    strings.Join(lines, "\r\n"),
		HTML:    html.String(),
	}, nil
}

// TestMessage confirms that a configuration can deliver mail.
func TestMessage(appName, to string, s Settings) (Message, error) {
	return render(to, appName+" email configuration test", content{
		AppName: appName,
		Title:   "Email configuration test",
		Paragraphs: []string{
			"This message confirms that the email settings are working.",
			fmt.Sprintf("Server: %s:%d (%s)", s.Host, s.Port, s.Encryption),
		},
	})
}

// InviteMessage carries the temporary password of a newly invited user.
func InviteMessage(appName, to, name, tempPassword, loginURL string) (Message, error) {
	return render(to, "You have been invited to "+appName, content{
		AppName: appName,
		Title:   "Welcome, " + name,
		Paragraphs: []string{
			"An account has been created for you. Sign in with this email address and the temporary password below, then change it.",
		},
		Code:     tempPassword,
		Link:     loginURL,
		LinkText: "Sign in",
	})
}

// PasswordResetMessage carries an administrator-issued temporary password.
func PasswordResetMessage(appName, to, name, tempPassword, loginURL string) (Message, error) {
	return render(to, appName+" password reset", content{
		AppName: appName,
		Title:   "Password reset",
		Paragraphs: []string{
			fmt.Sprintf("Hello %s, an administrator reset your password. Use the temporary password below to sign in.", name),
			"If you did not expect this, contact your administrator.",
		},
		Code:     tempPassword,
		Link:     loginURL,
		LinkText: "Sign in",
	})
}

// InviteLinkMessage asks a newly invited user to choose a password.
func InviteLinkMessage(appName, to, name, link string, validFor string) (Message, error) {
	return render(to, "You have been invited to "+appName, content{
		AppName: appName,
		Title:   "Welcome, " + name,
		Paragraphs: []string{
			"An account has been created for you. Follow the link below to choose your password.",
			"The link can be used once and expires in " + validFor + ".",
		},
		Link:     link,
		LinkText: "Set up your account",
	})
}

// ResetLinkMessage carries a self-service password reset link.
func ResetLinkMessage(appName, to, name, link string, validFor string) (Message, error) {
	return render(to, appName+" password reset", content{
		AppName: appName,
		Title:   "Password reset",
		Paragraphs: []string{
			fmt.Sprintf("Hello %s, a password reset was requested for your account.", name),
			"The link can be used once and expires in " + validFor + ". If you did not ask for this, ignore this message.",
		},
		Link:     link,
		LinkText: "Choose a new password",
	})
}

// CrewRequestDetails describes a completed crew change request.
type CrewRequestDetails struct {
	RequestorName string
	VolunteerName string
	RequestType   string
	CrewName      string
	ProjectName   string
	CompletedBy   string
	Notes         string
}

// CrewRequestCompletedMessage tells the requestor that the personnel team finished a request.
func CrewRequestCompletedMessage(appName, to string, d CrewRequestDetails) (Message, error) {
	paragraphs := []string{
		fmt.Sprintf("Hello %s, your crew change request has been completed by the Personnel Team.", d.RequestorName),
		"Volunteer: " + d.VolunteerName,
		"Request type: " + d.RequestType,
	}
	if d.CrewName != "" {
		paragraphs = append(paragraphs, "Crew: "+d.CrewName)
	}
	if d.ProjectName != "" {
		paragraphs = append(paragraphs, "Project: "+d.ProjectName)
	}
	paragraphs = append(paragraphs, "Completed by: "+d.CompletedBy)
	if d.Notes != "" {
		paragraphs = append(paragraphs, "Notes: "+d.Notes)
	}
	return render(to, "Crew request completed - "+d.VolunteerName, content{
		AppName:    appName,
		Title:      "Request completed",
		Paragraphs: paragraphs,
	})
}
