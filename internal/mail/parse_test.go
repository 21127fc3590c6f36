package mail

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rfc5322(lines ...string) string {
	return strings.Join(lines, "\r\n")
}

func TestParse_PlainText(t *testing.T) {
	raw := rfc5322(
		"From: Shop Billing <Billing@Shop.com>",
		"To: me@example.com",
		"Subject: =?UTF-8?Q?Your_invoice_=E2=82=AC10?=",
		"Date: Mon, 01 Jul 2024 08:00:00 +0000",
		"Message-ID: <inv-42@shop.com>",
		"Received-SPF: Pass (mailfrom) identity=mailfrom",
		"Authentication-Results: mx.example.com; spf=pass; dkim=pass; dmarc=pass",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Total due: EUR 10.00",
		"",
	)

	msg, err := Parse(strings.NewReader(raw), time.Time{})
	require.NoError(t, err)

	assert.Equal(t, "inv-42@shop.com", msg.ID)
	assert.Equal(t, "Billing@Shop.com", msg.From)
	assert.Equal(t, "Your invoice €10", msg.Subject)
	assert.Equal(t, "Total due: EUR 10.00\n", msg.Body)
	assert.Equal(t, time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC), msg.ReceivedAt.UTC())
	assert.Equal(t, []string{"Pass (mailfrom) identity=mailfrom"}, msg.Header("Received-SPF"))
	assert.Len(t, msg.Header("authentication-results"), 1)
}

func TestParse_MultipartPrefersPlainText(t *testing.T) {
	raw := rfc5322(
		"From: a@x.com",
		"Subject: hi",
		"Message-ID: <m1@x.com>",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>Hello <b>html</b></p>",
		"--b1",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Hello plain",
		"--b1--",
		"",
	)

	received := time.Date(2024, 7, 2, 9, 0, 0, 0, time.UTC)
	msg, err := Parse(strings.NewReader(raw), received)
	require.NoError(t, err)
	assert.Equal(t, "Hello plain", strings.TrimSpace(msg.Body))
	assert.Equal(t, received, msg.ReceivedAt)
}

func TestParse_HTMLOnly(t *testing.T) {
	raw := rfc5322(
		"From: a@x.com",
		"Subject: receipt",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="b2"`,
		"",
		"--b2",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<div>Amount:&nbsp;&euro;12.50</div><div>Thanks &amp; bye</div>",
		"--b2",
		`Content-Type: application/pdf; name="receipt.pdf"`,
		`Content-Disposition: attachment; filename="receipt.pdf"`,
		"",
		"JVBERi0=",
		"--b2--",
		"",
	)

	msg, err := Parse(strings.NewReader(raw), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "Amount: €12.50\nThanks & bye", msg.Body)
	assert.Empty(t, msg.ID)
	assert.NotEmpty(t, msg.NormalizedID())
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain", input: "hello", expected: "hello"},
		{name: "tags", input: "<p>a</p><p>b</p>", expected: "a\nb"},
		{name: "line breaks", input: "a<br>b<br/>c", expected: "a\nb\nc"},
		{name: "spaces collapse", input: "<span>a   \t b</span>", expected: "a b"},
		{name: "entities", input: "&lt;ok&gt;", expected: "<ok>"},
		{name: "multiline tag", input: "<a\nhref='x'>link</a>", expected: "link"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripHTML(tt.input))
		})
	}
}
