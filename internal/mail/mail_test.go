package mail

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"

	"github.com/receiptmatch/reconciler/internal/domain"
)

const mailbox = `{
  "messages": [
    {"id": "m1", "subject": "You received money with Zelle(R)", "snippet": "one"},
    {"id": "m2", "subject": "Your statement is ready", "snippet": "two"},
    {"id": "m3", "subject": "You received money with Zelle(R)", "snippet": "three", "body": "Ym9keQ=="},
    {"id": "m1", "subject": "duplicate id", "snippet": "ignored"}
  ]
}`

func writeMailbox(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailbox.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileSource_ListFiltersBySubject(t *testing.T) {
	src := NewFileSource(writeMailbox(t, mailbox))

	ids, err := src.ListCandidateMessages(context.Background(), "subject:'You received money with Zelle(R)'")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m3"}, ids)

	all, err := src.ListCandidateMessages(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, all)
}

func TestFileSource_Get(t *testing.T) {
	src := NewFileSource(writeMailbox(t, mailbox))

	msg, err := src.GetMessageContent(context.Background(), "m3")
	require.NoError(t, err)
	assert.Equal(t, "m3", msg.ExternalID)
	assert.Equal(t, "three", msg.Snippet)
	assert.Equal(t, "Ym9keQ==", msg.Body)

	_, err = src.GetMessageContent(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFileSource_MissingFileIsUnavailable(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "absent.json"))

	_, err := src.ListCandidateMessages(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestSubjectFromQuery(t *testing.T) {
	tests := map[string]string{
		"subject:'You received money with Zelle(R)'": "You received money with Zelle(R)",
		`from:x subject:"Paid" newer_than:1d`:        "Paid",
		"subject:Zelle is:unread":                    "Zelle",
		"from:alerts@example.com":                    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, subjectFromQuery(in), in)
	}
}

func TestGmail_NotAuthenticatedWithoutToken(t *testing.T) {
	dir := t.TempDir()
	g := NewGmail(filepath.Join(dir, "credentials.json"), filepath.Join(dir, "token.json"), zerolog.Nop())

	assert.False(t, g.Connected())
	_, err := g.ListCandidateMessages(context.Background(), "subject:x")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestPlainTextBody(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "multipart/alternative",
		Parts: []*gmail.MessagePart{
			{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: "PGI-"}},
			{MimeType: "multipart/related", Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: "cGxhaW4"}},
			}},
		},
	}
	assert.Equal(t, "cGxhaW4", plainTextBody(payload))
	assert.Equal(t, "", plainTextBody(nil))
}

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	tok := &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer"}
	require.NoError(t, SaveToken(path, tok))

	got, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "access", got.AccessToken)
	assert.Equal(t, "refresh", got.RefreshToken)

	g := NewGmail("unused.json", path, zerolog.Nop())
	assert.True(t, g.Connected())

	_, err = LoadToken(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
