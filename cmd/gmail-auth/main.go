// Command gmail-auth performs the one-time OAuth consent for the Gmail
// mail source and stores the resulting token where the server reads it.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"

	"github.com/receiptmatch/reconciler/internal/config"
	"github.com/receiptmatch/reconciler/internal/logger"
	"github.com/receiptmatch/reconciler/internal/mail"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info")
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.LogLevel)

	credentials := flag.String("credentials", cfg.Mail.CredentialsFile, "OAuth client credentials JSON")
	tokenFile := flag.String("token", cfg.Mail.TokenFile, "where to write the token")
	flag.Parse()

	conf, err := mail.OAuthConfig(*credentials)
	if err != nil {
		log.Fatal().Err(err).Msg("load credentials")
	}

	url := conf.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Printf("Open this URL in a browser and authorize access:\n\n%s\n\nPaste the authorization code: ", url)

	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		log.Fatal().Err(err).Msg("read authorization code")
	}

	tok, err := conf.Exchange(context.Background(), strings.TrimSpace(code))
	if err != nil {
		log.Fatal().Err(err).Msg("exchange authorization code")
	}
	if err := mail.SaveToken(*tokenFile, tok); err != nil {
		log.Fatal().Err(err).Msg("save token")
	}
	log.Info().Str("path", *tokenFile).Msg("token saved")
}
