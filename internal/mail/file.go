package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/receiptmatch/reconciler/internal/domain"
	"github.com/receiptmatch/reconciler/internal/notification"
)

// FileSource serves messages from a JSON file, re-read on every listing so
// new messages can be appended while the server runs. Used for local
// development and demos.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

type mailboxFile struct {
	Messages []mailboxEntry `json:"messages"`
}

type mailboxEntry struct {
	notification.Message
	Subject string `json:"subject"`
}

func (s *FileSource) load() (map[string]mailboxEntry, []string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read mailbox %s: %v", domain.ErrUpstreamUnavailable, s.path, err)
	}
	var f mailboxFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("%w: decode mailbox: %v", domain.ErrUpstreamUnavailable, err)
	}
	byID := make(map[string]mailboxEntry, len(f.Messages))
	order := make([]string, 0, len(f.Messages))
	for _, m := range f.Messages {
		if _, dup := byID[m.ExternalID]; dup || m.ExternalID == "" {
			continue
		}
		byID[m.ExternalID] = m
		order = append(order, m.ExternalID)
	}
	return byID, order, nil
}

// ListCandidateMessages understands the subject:'...' query form; any other
// query matches every message.
func (s *FileSource) ListCandidateMessages(ctx context.Context, query string) ([]string, error) {
	byID, order, err := s.load()
	if err != nil {
		return nil, err
	}
	subject := subjectFromQuery(query)

	var ids []string
	for _, id := range order {
		if subject == "" || strings.Contains(byID[id].Subject, subject) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *FileSource) GetMessageContent(ctx context.Context, id string) (*notification.Message, error) {
	byID, _, err := s.load()
	if err != nil {
		return nil, err
	}
	m, ok := byID[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	msg := m.Message
	return &msg, nil
}

func subjectFromQuery(q string) string {
	const prefix = "subject:"
	i := strings.Index(q, prefix)
	if i < 0 {
		return ""
	}
	rest := strings.TrimSpace(q[i+len(prefix):])
	if len(rest) >= 2 && (rest[0] == '\'' || rest[0] == '"') {
		if end := strings.IndexByte(rest[1:], rest[0]); end >= 0 {
			return rest[1 : end+1]
		}
	}
	if sp := strings.IndexByte(rest, ' '); sp >= 0 {
		return rest[:sp]
	}
	return rest
}

var _ Source = (*FileSource)(nil)
