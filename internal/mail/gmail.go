package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/receiptmatch/reconciler/internal/domain"
	"github.com/receiptmatch/reconciler/internal/notification"
)

const gmailUser = "me"

// Gmail reads notifications from a Gmail inbox using a stored OAuth token.
// Obtaining the token is outside this package; see cmd/gmail-auth.
type Gmail struct {
	credentialsFile string
	tokenFile       string
	log             zerolog.Logger

	mu  sync.Mutex
	svc *gmail.Service
}

func NewGmail(credentialsFile, tokenFile string, log zerolog.Logger) *Gmail {
	return &Gmail{
		credentialsFile: credentialsFile,
		tokenFile:       tokenFile,
		log:             log,
	}
}

// OAuthConfig loads the client credentials for the read-only Gmail scope.
func OAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	conf, err := google.ConfigFromJSON(data, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return conf, nil
}

// LoadToken reads a token previously written by SaveToken.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &tok, nil
}

// SaveToken writes tok to path with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Connected reports whether a token is on disk. It does not contact Google.
func (g *Gmail) Connected() bool {
	_, err := os.Stat(g.tokenFile)
	return err == nil
}

func (g *Gmail) service(ctx context.Context) (*gmail.Service, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.svc != nil {
		return g.svc, nil
	}

	conf, err := OAuthConfig(g.credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNotAuthenticated, err)
	}
	tok, err := LoadToken(g.tokenFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNotAuthenticated, err)
	}

	// The token source outlives this call, so it must not inherit ctx.
	ts := &persistingTokenSource{
		base: conf.TokenSource(context.Background(), tok),
		path: g.tokenFile,
		last: tok.AccessToken,
		log:  g.log,
	}
	svc, err := gmail.NewService(ctx, option.WithTokenSource(oauth2.ReuseTokenSource(tok, ts)))
	if err != nil {
		return nil, fmt.Errorf("%w: create gmail client: %v", domain.ErrUpstreamUnavailable, err)
	}
	g.svc = svc
	return svc, nil
}

func (g *Gmail) reset() {
	g.mu.Lock()
	g.svc = nil
	g.mu.Unlock()
}

func (g *Gmail) ListCandidateMessages(ctx context.Context, query string) ([]string, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	err = svc.Users.Messages.List(gmailUser).Q(query).Pages(ctx, func(resp *gmail.ListMessagesResponse) error {
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		return nil
	})
	if err != nil {
		return nil, g.classify("list messages", err)
	}
	return ids, nil
}

func (g *Gmail) GetMessageContent(ctx context.Context, id string) (*notification.Message, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return nil, err
	}

	msg, err := svc.Users.Messages.Get(gmailUser, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, g.classify("get message "+id, err)
	}

	return &notification.Message{
		ExternalID: msg.Id,
		Snippet:    msg.Snippet,
		Body:       plainTextBody(msg.Payload),
	}, nil
}

// classify maps Google client errors onto the domain error kinds.
func (g *Gmail) classify(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		g.reset()
		return fmt.Errorf("%w: %s: %v", domain.ErrNotAuthenticated, op, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			g.reset()
			return fmt.Errorf("%w: %s: %v", domain.ErrNotAuthenticated, op, err)
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		}
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrUpstreamUnavailable, op, err)
}

// plainTextBody returns the encoded data of the first text/plain part.
func plainTextBody(p *gmail.MessagePart) string {
	if p == nil {
		return ""
	}
	if p.MimeType == "text/plain" && p.Body != nil && p.Body.Data != "" {
		return p.Body.Data
	}
	for _, part := range p.Parts {
		if data := plainTextBody(part); data != "" {
			return data
		}
	}
	return ""
}

// persistingTokenSource writes refreshed tokens back to disk.
type persistingTokenSource struct {
	base oauth2.TokenSource
	path string
	log  zerolog.Logger

	mu   sync.Mutex
	last string
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := SaveToken(s.path, tok); err != nil {
			s.log.Warn().Err(err).Msg("failed to persist refreshed gmail token")
		} else {
			s.log.Info().Time("expiry", tok.Expiry).Msg("gmail token refreshed")
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}

var _ Source = (*Gmail)(nil)
