package mailer

import (
	"fmt"
	"html"
	"time"
)

// MagicLink renders the sign-in e-mail for a magic link.
func MagicLink(to, firstName, link string, expiresAt, now time.Time) Message {
	greeting := "Hi"
	if firstName != "" {
		greeting = "Hi " + firstName
	}
	minutes := int(expiresAt.Sub(now).Round(time.Minute).Minutes())
	if minutes < 1 {
		minutes = 1
	}

	text := fmt.Sprintf("%s,\n\nUse this link to sign in to Community Hub: %s\n\nThe link expires in %d minutes and works once.\nIf you didn't ask to sign in, you can ignore this email.",
		greeting, link, minutes)
	body := fmt.Sprintf(`
		<h2>Sign in to Community Hub</h2>
		<p>%s,</p>
		<p>Click the button below to sign in:</p>
		<p><a href="%s" style="background-color: #4CAF50; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px;">Sign in</a></p>
		<p>This link expires in %d minutes and can only be used once.</p>
		<p>If you didn't ask to sign in, you can ignore this email.</p>
	`, html.EscapeString(greeting), html.EscapeString(link), minutes)

	return Message{
		To:      to,
		ToName:  firstName,
		Subject: "Your Community Hub sign-in link",
		Text:    text,
		HTML:    body,
	}
}

// Welcome renders the e-mail sent once a new member record exists.
func Welcome(to string) Message {
	return Message{
		To:      to,
		Subject: "Welcome to Community Hub",
		Text:    "Welcome to Community Hub!\n\nYour account is ready. Finish signing in with the link we sent separately, then join a community from your profile.",
		HTML: `
		<h2>Welcome to Community Hub!</h2>
		<p>Your account is ready.</p>
		<p>Finish signing in with the link we sent separately, then join a community from your profile.</p>
	`,
	}
}
