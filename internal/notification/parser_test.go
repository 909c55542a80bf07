package notification

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullSnippet = "&lt;https://www.wellsfargo.com&gt; JOHN DOE sent you $1,250.00 " +
	"Date: *10/17/2026* Confirmation: *ABC123* Memo: *october rent*"

func encode(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestParse_Snippet(t *testing.T) {
	n := Parse(Message{Snippet: fullSnippet})

	assert.Equal(t, "JOHN DOE", n.SenderName)
	require.True(t, n.Amount.Valid)
	assert.Equal(t, "1250", n.Amount.Decimal.String())
	require.NotNil(t, n.Date)
	assert.Equal(t, "2026-10-17", n.Date.Format("2006-01-02"))
	assert.Equal(t, "ABC123", n.ConfirmationCode)
	assert.Equal(t, "october rent", n.Memo)
	assert.False(t, n.Empty())
}

func TestParse_ThousandsSeparators(t *testing.T) {
	n := Parse(Message{Snippet: "<https://www.wellsfargo.com> A B sent you $1,234,567.89 Date: *01/02/2026* Confirmation: *Z9*"})

	require.True(t, n.Amount.Valid)
	assert.Equal(t, "1234567.89", n.Amount.Decimal.String())
	assert.Equal(t, "A B", n.SenderName)
}

func TestParse_BodyFallbackFillsMissingFields(t *testing.T) {
	snippet := "&lt;https://www.wellsfargo.com&gt; JANE ROE sent you $20.00 Date: *10/16/2026*"
	body := "From: Someone Else <alerts@example.com>\n" +
		"Jane Roe sent you $99.99\n" +
		"Date: *01/01/2020*\n" +
		"Confirmation: *QWE987*\n" +
		"Memo: *lunch*\n"

	n := Parse(Message{Snippet: snippet, Body: encode(body)})

	// Snippet values win.
	assert.Equal(t, "JANE ROE", n.SenderName)
	assert.Equal(t, "20", n.Amount.Decimal.String())
	assert.Equal(t, "2026-10-16", n.Date.Format("2006-01-02"))
	// Gaps come from the body.
	assert.Equal(t, "QWE987", n.ConfirmationCode)
	assert.Equal(t, "lunch", n.Memo)
}

func TestParse_BodyOnly(t *testing.T) {
	body := "From: Mary Major <mary@example.com>\n" +
		"Mary Major sent you $5.25\nDate: *03/04/2026*\nConfirmation: *M1*"

	n := Parse(Message{Snippet: "unrelated preview", Body: encode(body)})

	assert.Equal(t, "Mary Major", n.SenderName)
	assert.Equal(t, "5.25", n.Amount.Decimal.String())
	assert.Equal(t, "2026-03-04", n.Date.Format("2006-01-02"))
	assert.Equal(t, "M1", n.ConfirmationCode)
	assert.Equal(t, "", n.Memo)
}

func TestParse_NoMatchIsEmpty(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"empty", Message{}},
		{"newsletter", Message{Snippet: "Your monthly statement is ready"}},
		{"garbage body", Message{Snippet: "hello", Body: "%%%not-base64%%%"}},
		{"body without matches", Message{Snippet: "hi", Body: encode("nothing to see")}},
		{"bad date only", Message{Snippet: "Date: *99/99/2026*"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Parse(tt.msg)
			assert.True(t, n.Empty())
			assert.Nil(t, n.Date)
			assert.False(t, n.Amount.Valid)
		})
	}
}

func TestDecodeBody(t *testing.T) {
	raw := "line one\nline two ~~~???"

	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding, base64.StdEncoding} {
		got, ok := DecodeBody(enc.EncodeToString([]byte(raw)))
		require.True(t, ok)
		assert.Equal(t, raw, got)
	}

	_, ok := DecodeBody("")
	assert.False(t, ok)
}

func TestParse_MissingMemoAloneSkipsBody(t *testing.T) {
	snippet := "&lt;https://www.wellsfargo.com&gt; JANE ROE sent you $20.00 Date: *10/16/2026* Confirmation: *X1*"
	body := "From: JANE ROE <alerts@example.com>\nMemo: *from body*"

	n := Parse(Message{Snippet: snippet, Body: encode(body)})
	assert.Equal(t, "X1", n.ConfirmationCode)
	assert.Empty(t, n.Memo)
}
