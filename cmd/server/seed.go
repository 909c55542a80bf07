package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/receiptmatch/reconciler/internal/domain"
	"github.com/receiptmatch/reconciler/internal/repository"
)

// seedFile is the layout written by testdata/generate.
type seedFile struct {
	Users         []domain.User         `json:"users"`
	Confirmations []domain.Confirmation `json:"confirmations"`
}

func seed(ctx context.Context, path string, users *repository.UserRepo, confirmations *repository.ConfirmationRepo, log zerolog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var sf seedFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("unmarshal seed file: %w", err)
	}

	nUsers, err := users.BulkInsert(ctx, sf.Users)
	if err != nil {
		return fmt.Errorf("seed users: %w", err)
	}
	nConfs, err := confirmations.BulkInsert(ctx, sf.Confirmations)
	if err != nil {
		return fmt.Errorf("seed confirmations: %w", err)
	}

	log.Info().
		Int("users", nUsers).
		Int("confirmations", nConfs).
		Msg("seeded database")
	return nil
}
