package notification

import (
	"encoding/base64"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Message is one raw inbound notification: the short summary the mailbox
// shows and, optionally, the encoded text body.
type Message struct {
	ExternalID string `json:"id"`
	Snippet    string `json:"snippet"`
	// Body is the base64url-encoded text/plain part, as delivered by the
	// mail provider.
	Body string `json:"body,omitempty"`
}

// Notification is the structured result of parsing a Message. Unextracted
// fields are empty, invalid or nil.
type Notification struct {
	SenderName       string
	Amount           decimal.NullDecimal
	Date             *time.Time
	ConfirmationCode string
	Memo             string
}

// Empty reports whether nothing at all was extracted.
func (n *Notification) Empty() bool {
	return n.SenderName == "" && !n.Amount.Valid && n.Date == nil &&
		n.ConfirmationCode == "" && n.Memo == ""
}

// complete reports whether every field required of a payment notification
// was found. Memo is optional.
func (n *Notification) complete() bool {
	return n.SenderName != "" && n.Amount.Valid && n.Date != nil && n.ConfirmationCode != ""
}

const dateLayout = "01/02/2006"

var (
	snippetSender = regexp.MustCompile(`(?:&lt;|<)https://www\.wellsfargo\.com(?:&gt;|>) (.+?) sent you`)
	bodySender    = regexp.MustCompile(`From: (.+?) <[^>]*>`)
	amountRe      = regexp.MustCompile(`sent you \$([0-9,]+\.[0-9]{2})`)
	dateRe        = regexp.MustCompile(`Date: \*([0-9]{2}/[0-9]{2}/[0-9]{4})\*`)
	codeRe        = regexp.MustCompile(`Confirmation: \*([A-Za-z0-9]+)\*`)
	memoRe        = regexp.MustCompile(`Memo: \*([A-Za-z0-9 ]+)\*`)
)

// Parse extracts a Notification from msg. The snippet is tried first; when
// a required field is still missing the decoded body fills the gaps. A
// field found in the snippet is never replaced.
func Parse(msg Message) Notification {
	var n Notification
	extract(&n, msg.Snippet, snippetSender)

	if !n.complete() {
		if body, ok := DecodeBody(msg.Body); ok {
			extract(&n, body, bodySender)
		}
	}
	return n
}

func extract(n *Notification, text string, senderRe *regexp.Regexp) {
	if n.SenderName == "" {
		n.SenderName = strings.TrimSpace(match(senderRe, text))
	}
	if !n.Amount.Valid {
		if raw := match(amountRe, text); raw != "" {
			if v, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", "")); err == nil {
				n.Amount = decimal.NewNullDecimal(v)
			}
		}
	}
	if n.Date == nil {
		if raw := match(dateRe, text); raw != "" {
			if d, err := time.Parse(dateLayout, raw); err == nil {
				n.Date = &d
			}
		}
	}
	if n.ConfirmationCode == "" {
		n.ConfirmationCode = match(codeRe, text)
	}
	if n.Memo == "" {
		n.Memo = strings.TrimSpace(match(memoRe, text))
	}
}

func match(re *regexp.Regexp, s string) string {
	if s == "" {
		return ""
	}
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// DecodeBody decodes a base64 message body. Providers differ on padding and
// alphabet, so URL-safe and standard encodings are both accepted.
func DecodeBody(data string) (string, bool) {
	data = strings.TrimSpace(data)
	if data == "" {
		return "", false
	}
	for _, enc := range []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	} {
		if b, err := enc.DecodeString(data); err == nil {
			return string(b), true
		}
	}
	return "", false
}
