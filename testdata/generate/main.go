package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/receiptmatch/reconciler/internal/config"
	"github.com/receiptmatch/reconciler/internal/domain"
)

// mailboxMessage matches the file mail source layout.
type mailboxMessage struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Snippet string `json:"snippet"`
	Body    string `json:"body,omitempty"`
}

const zelleSubject = "You received money with Zelle(R)"

var (
	firstNames = []string{"JANE", "JOHN", "MARIA", "DAVID", "LINDA", "CARLOS", "AISHA", "WEI"}
	lastNames  = []string{"DOE", "SMITH", "GARCIA", "NGUYEN", "PATEL", "JOHNSON", "KIM", "ROE"}
	memos      = []string{"rent", "dinner", "order 1042", "deposit", "invoice", ""}
)

func main() {
	rng := rand.New(rand.NewSource(42))
	baseDir := findTestdataDir()

	// Notifications span the 60 days before this date.
	endDate := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	users := []domain.User{{
		ID: "user-admin", Username: "admin", Name: "Admin", Email: "admin@example.com",
		Phone: "555-0100", Role: domain.RoleAdmin,
	}}
	for i := 1; i <= 5; i++ {
		users = append(users, domain.User{
			ID:       fmt.Sprintf("user-%03d", i),
			Username: fmt.Sprintf("seller%d", i),
			Name:     fmt.Sprintf("Seller %d", i),
			Email:    fmt.Sprintf("seller%d@example.com", i),
			Phone:    fmt.Sprintf("555-01%02d", i),
			Role:     domain.RoleUser,
		})
	}

	var (
		confirmations []domain.Confirmation
		messages      []mailboxMessage
	)
	for i := 1; i <= 120; i++ {
		code := randomCode(rng)
		date := endDate.AddDate(0, 0, -rng.Intn(60))
		cents := 500 + rng.Intn(150000)
		sender := firstNames[rng.Intn(len(firstNames))] + " " + lastNames[rng.Intn(len(lastNames))]
		memo := memos[rng.Intn(len(memos))]

		msg := mailboxMessage{
			ID:      fmt.Sprintf("msg-%04d", i),
			Subject: zelleSubject,
			Snippet: snippet(sender, cents, date, code, memo),
		}
		// Some notifications only carry the full details in the body.
		if rng.Intn(5) == 0 {
			msg.Body = base64.URLEncoding.EncodeToString([]byte(body(sender, cents, date, code, memo)))
			msg.Snippet = "You received money with Zelle(R)"
		}
		messages = append(messages, msg)

		// Roughly two thirds of payments are confirmed by a seller.
		if rng.Intn(3) != 0 {
			owner := users[1+rng.Intn(len(users)-1)]
			confirmations = append(confirmations, domain.Confirmation{
				ID:     fmt.Sprintf("conf-%04d", i),
				UserID: owner.ID,
				Code:   code,
			})
		}
	}

	// Noise: unrelated mail and a notification the parser cannot read.
	messages = append(messages,
		mailboxMessage{ID: "msg-statement", Subject: "Your statement is ready", Snippet: "Your monthly statement is available."},
		mailboxMessage{ID: "msg-garbled", Subject: zelleSubject, Snippet: "Payment details unavailable."},
	)

	writeJSONFile(filepath.Join(baseDir, "seed.json"), map[string]any{
		"users":         users,
		"confirmations": confirmations,
	})
	fmt.Printf("Generated %d users and %d confirmations -> seed.json\n", len(users), len(confirmations))

	writeJSONFile(filepath.Join(baseDir, "mailbox.json"), map[string]any{"messages": messages})
	fmt.Printf("Generated %d messages -> mailbox.json (filter: %s)\n", len(messages), config.DefaultSubjectFilter)
}

func randomCode(rng *rand.Rand) string {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	var b strings.Builder
	for range 10 {
		b.WriteByte(alphabet[rng.Intn(len(alphabet))])
	}
	return b.String()
}

func formatCents(cents int) string {
	whole := fmt.Sprintf("%d", cents/100)
	var out []string
	for len(whole) > 3 {
		out = append([]string{whole[len(whole)-3:]}, out...)
		whole = whole[:len(whole)-3]
	}
	out = append([]string{whole}, out...)
	return fmt.Sprintf("%s.%02d", strings.Join(out, ","), cents%100)
}

func snippet(sender string, cents int, date time.Time, code, memo string) string {
	s := fmt.Sprintf("&lt;https://www.wellsfargo.com&gt; %s sent you $%s Date: *%s* Confirmation: *%s*",
		sender, formatCents(cents), date.Format("01/02/2006"), code)
	if memo != "" {
		s += " Memo: *" + memo + "*"
	}
	return s
}

func body(sender string, cents int, date time.Time, code, memo string) string {
	lines := []string{
		fmt.Sprintf("From: %s <alerts@notify.wellsfargo.com>", sender),
		fmt.Sprintf("%s sent you $%s", sender, formatCents(cents)),
		fmt.Sprintf("Date: *%s*", date.Format("01/02/2006")),
		fmt.Sprintf("Confirmation: *%s*", code),
	}
	if memo != "" {
		lines = append(lines, "Memo: *"+memo+"*")
	}
	return strings.Join(lines, "\n")
}

func writeJSONFile(path string, v any) {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		panic(err)
	}
}

func findTestdataDir() string {
	// Look for the testdata directory relative to common locations.
	candidates := []string{
		"testdata",
		"../testdata",
		"../../testdata",
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c
		}
	}
	// Fallback.
	return "testdata"
}
