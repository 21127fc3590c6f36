// Package mail fetches inbound messages over IMAP and feeds them to the
// dispatcher.
package mail

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/Veraticus/autopay/internal/model"
	_ "github.com/emersion/go-message/charset" // registers non-UTF-8 charsets
	"github.com/emersion/go-message/mail"
)

// maxBodySize bounds how much of a text part is read.
const maxBodySize = 1 << 20

var (
	tagPattern   = regexp.MustCompile(`(?s)<[^>]*>`)
	spacePattern = regexp.MustCompile(`[ \t]+`)
	blankLines   = regexp.MustCompile(`\n{3,}`)
)

// Parse reads an RFC 5322 message. The body is the first text/plain part, or
// the first text/html part with tags removed when there is no plain text.
// receivedAt is used when it is set; otherwise the Date header is.
func Parse(r io.Reader, receivedAt time.Time) (model.InboundMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && mr == nil {
		return model.InboundMessage{}, fmt.Errorf("failed to read message: %w", err)
	}
	defer func() { _ = mr.Close() }()

	msg := model.InboundMessage{
		Headers:    make(map[string][]string),
		ReceivedAt: receivedAt,
	}

	fields := mr.Header.Fields()
	for fields.Next() {
		key := strings.ToLower(fields.Key())
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		msg.Headers[key] = append(msg.Headers[key], value)
	}

	if id, err := mr.Header.MessageID(); err == nil {
		msg.ID = id
	}
	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = subject
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
	} else {
		msg.From = strings.TrimSpace(mr.Header.Get("From"))
	}
	if msg.ReceivedAt.IsZero() {
		if date, err := mr.Header.Date(); err == nil {
			msg.ReceivedAt = date
		}
	}

	var plain, html string
	for plain == "" {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if plain == "" && html == "" {
				return msg, fmt.Errorf("failed to read message body: %w", err)
			}
			break
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := inline.ContentType()
		if err != nil {
			contentType = "text/plain"
		}

		switch contentType {
		case "text/plain":
			plain, err = readText(part.Body)
		case "text/html":
			if html == "" {
				html, err = readText(part.Body)
			}
		}
		if err != nil {
			return msg, fmt.Errorf("failed to read %s part: %w", contentType, err)
		}
	}

	msg.Body = plain
	if msg.Body == "" && html != "" {
		msg.Body = StripHTML(html)
	}
	return msg, nil
}

func readText(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBodySize))
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}

// StripHTML reduces an HTML body to its text.
func StripHTML(html string) string {
	text := html
	for _, tag := range []string{"<br>", "<br/>", "<br />", "</p>", "</div>", "</tr>"} {
		text = strings.ReplaceAll(text, tag, tag+"\n")
	}
	text = tagPattern.ReplaceAllString(text, "")
	text = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&euro;", "€", "&quot;", `"`).Replace(text)
	text = spacePattern.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}
