package email

import (
	"strings"
	"testing"
)

func TestBuildPlainText(t *testing.T) {
	data, messageID := Build(&Message{
		From:    "sender@example.com",
		To:      []string{"rcpt@example.org"},
		Subject: "plain",
		Text:    "hello world",
	})

	s := string(data)
	if !strings.Contains(s, "From: sender@example.com\r\n") {
		t.Error("missing From header")
	}
	if !strings.Contains(s, "To: rcpt@example.org\r\n") {
		t.Error("missing To header")
	}
	if !strings.Contains(s, "Subject: plain\r\n") {
		t.Error("missing Subject header")
	}
	if !strings.Contains(s, "Content-Type: text/plain; charset=utf-8") {
		t.Error("missing plain text content type")
	}
	if !strings.Contains(s, "hello world") {
		t.Error("missing body")
	}
	if strings.Contains(s, "multipart/alternative") {
		t.Error("plain message must not be multipart")
	}

	if !strings.HasSuffix(messageID, "@example.com") {
		t.Errorf("message id = %q, want sender domain suffix", messageID)
	}
	if !strings.Contains(s, "Message-ID: <"+messageID+">") {
		t.Error("Message-ID header does not match returned id")
	}
}

func TestBuildHTMLOnly(t *testing.T) {
	data, _ := Build(&Message{
		From:    "sender@example.com",
		To:      []string{"rcpt@example.org"},
		Subject: "html",
		HTML:    "<p>hi</p>",
	})

	s := string(data)
	if !strings.Contains(s, "Content-Type: text/html; charset=utf-8") {
		t.Error("missing html content type")
	}
	if strings.Contains(s, "multipart/alternative") {
		t.Error("html-only message must not be multipart")
	}
}

func TestBuildMultipartAlternative(t *testing.T) {
	data, _ := Build(&Message{
		From:    "sender@example.com",
		To:      []string{"a@example.org", "b@example.org"},
		Subject: "both",
		Text:    "plain version",
		HTML:    "<p>rich version</p>",
	})

	s := string(data)
	if !strings.Contains(s, "multipart/alternative") {
		t.Fatal("missing multipart content type")
	}
	// Plain part comes before the html part
	plainIdx := strings.Index(s, "plain version")
	htmlIdx := strings.Index(s, "rich version")
	if plainIdx == -1 || htmlIdx == -1 {
		t.Fatal("missing body part")
	}
	if plainIdx > htmlIdx {
		t.Error("text/plain part must precede text/html")
	}
	if !strings.Contains(s, "To: a@example.org, b@example.org\r\n") {
		t.Error("recipients not joined in To header")
	}
}

func TestBuildCustomHeaders(t *testing.T) {
	data, _ := Build(&Message{
		From:    "sender@example.com",
		To:      []string{"rcpt@example.org"},
		Subject: "hdrs",
		Text:    "x",
		Headers: map[string]string{"X-Campaign": "launch-42"},
	})

	if !strings.Contains(string(data), "X-Campaign: launch-42\r\n") {
		t.Error("custom header not written")
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"user@example.com", "example.com"},
		{"user@sub.example.com", "sub.example.com"},
		{"invalid", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := ExtractDomain(tt.in); got != tt.want {
			t.Errorf("ExtractDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidAddress(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"user@example.com", true},
		{"First Last <user@example.com>", true},
		{"no-at-sign", false},
		{"", false},
		{"user@", false},
	}

	for _, tt := range tests {
		if got := ValidAddress(tt.in); got != tt.want {
			t.Errorf("ValidAddress(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
