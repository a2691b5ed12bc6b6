package mail

import (
	"strings"
	"testing"

	gomail "github.com/emersion/go-message/mail"

	"github.com/plouffe/rdv/internal/core"
)

const rawReply = "Message-Id: <msg-2@example.com>\r\n" +
	"In-Reply-To: <msg-1@example.com>\r\n" +
	"References: <msg-1@example.com>\r\n" +
	"From: Ada <ada@example.com>\r\n" +
	"Subject: Re: catch up\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Option 2 works for me.\r\n"

func TestParseBodyExtractsTextAndThreadRoot(t *testing.T) {
	body, threadID := parseBody([]byte(rawReply))
	if !strings.Contains(body, "Option 2 works") {
		t.Errorf("body = %q", body)
	}
	if threadID != "msg-1@example.com" {
		t.Errorf("threadID = %q, want msg-1@example.com", threadID)
	}
}

func TestParseBodyThreadStarterHasNoRoot(t *testing.T) {
	raw := "Message-Id: <msg-1@example.com>\r\n" +
		"From: ada@example.com\r\n" +
		"Subject: catch up\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Can we meet next week?\r\n"
	_, threadID := parseBody([]byte(raw))
	if threadID != "" {
		t.Errorf("threadID = %q, want empty for a thread starter", threadID)
	}
}

func TestParseBodyPrefersFirstReference(t *testing.T) {
	raw := "References: <root@example.com> <mid@example.com>\r\n" +
		"In-Reply-To: <mid@example.com>\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"yes\r\n"
	_, threadID := parseBody([]byte(raw))
	if threadID != "root@example.com" {
		t.Errorf("threadID = %q, want root@example.com", threadID)
	}
}

func TestCanonicalID(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"<abc@example.com>", "abc@example.com"},
		{"abc@example.com", "abc@example.com"},
		{"  <abc@example.com>  ", "abc@example.com"},
		{"", ""},
	} {
		if got := canonicalID(tc.in); got != tc.want {
			t.Errorf("canonicalID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestReferencesFor(t *testing.T) {
	starter := core.Message{ID: "a@x", MailThreadID: "a@x"}
	if got := referencesFor(starter); got != "<a@x>" {
		t.Errorf("starter references = %q", got)
	}
	reply := core.Message{ID: "b@x", MailThreadID: "a@x"}
	if got := referencesFor(reply); got != "<a@x> <b@x>" {
		t.Errorf("reply references = %q", got)
	}
}

func TestBuildPlainTextProducesParsableMessage(t *testing.T) {
	var h gomail.Header
	h.SetSubject("Re: catch up")
	h.SetAddressList("From", []*gomail.Address{{Address: "bot@example.com"}})
	h.SetAddressList("To", []*gomail.Address{{Address: "ada@example.com"}})
	h.Set("In-Reply-To", "<msg-1@example.com>")

	raw, err := buildPlainText(h, "All set, see you Monday.")
	if err != nil {
		t.Fatalf("buildPlainText: %v", err)
	}
	body, _ := parseBody(raw)
	if !strings.Contains(body, "All set, see you Monday.") {
		t.Errorf("round-tripped body = %q", body)
	}
	if !strings.Contains(string(raw), "In-Reply-To: <msg-1@example.com>") {
		t.Errorf("message missing threading header:\n%s", raw)
	}
}
