package digest

import (
	"fmt"
	"html"
	"strings"
	"time"

	"notifyrelay/internal/notify"
)

const stampLayout = "2006-01-02 15:04 MST"

// Render builds the consolidated content for d's channel. Email gets an HTML
// alternative; every other channel gets plain text only.
func Render(d Digest) notify.Content {
	c := notify.Content{Subject: d.Subject}
	lines := make([]string, 0, len(d.Items)+3)
	lines = append(lines, fmt.Sprintf("%d notification(s) for %q", d.Total, d.Subject))
	for i, u := range d.Items {
		if i == d.HeadLen && d.Elided > 0 {
			lines = append(lines, elidedMarker(d.Elided))
		}
		lines = append(lines, "- "+itemLine(u))
	}
	if d.HeadLen == len(d.Items) && d.Elided > 0 {
		lines = append(lines, elidedMarker(d.Elided))
	}
	if d.Suppressed {
		lines = append(lines, suppressionNote)
	}
	c.Text = strings.Join(lines, "\n")
	if d.Channel == notify.ChannelEmail {
		c.HTML = renderHTML(d)
	}
	return c
}

const suppressionNote = "Duplicate notifications in this window were suppressed."

func elidedMarker(n int) string {
	return fmt.Sprintf("... %d more", n)
}

func itemLine(u notify.Unit) string {
	at := u.Message.CreatedAt
	text := strings.TrimSpace(u.Content.Text)
	if text == "" {
		text = u.Message.Subject
	}
	if at.IsZero() {
		return text
	}
	return at.In(time.UTC).Format(stampLayout) + " " + text
}

func renderHTML(d Digest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>%d notification(s) for <b>%s</b></p><ul>", d.Total, html.EscapeString(d.Subject))
	for i, u := range d.Items {
		if i == d.HeadLen && d.Elided > 0 {
			fmt.Fprintf(&b, "<li><i>%s</i></li>", html.EscapeString(elidedMarker(d.Elided)))
		}
		body := u.Content.HTML
		if body == "" {
			body = html.EscapeString(itemLine(u))
		}
		b.WriteString("<li>" + body + "</li>")
	}
	if d.HeadLen == len(d.Items) && d.Elided > 0 {
		fmt.Fprintf(&b, "<li><i>%s</i></li>", html.EscapeString(elidedMarker(d.Elided)))
	}
	b.WriteString("</ul>")
	if d.Suppressed {
		b.WriteString("<p><small>" + suppressionNote + "</small></p>")
	}
	return b.String()
}
