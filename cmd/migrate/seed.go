package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Uriel-Ondo/agro/internal/config"
	"github.com/Uriel-Ondo/agro/internal/database"
	"github.com/Uriel-Ondo/agro/internal/models"
	"github.com/Uriel-Ondo/agro/internal/repository"
	"github.com/Uriel-Ondo/agro/pkg/utils"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the default farmer and expert accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			dbURL, err := requireDBURL()
			if err != nil {
				return err
			}
			if err := database.ConnectDB(cmd.Context(), dbURL, cfg.DBPool()); err != nil {
				return err
			}
			defer database.CloseDB()

			users := repository.NewUserRepository(database.DB)
			accounts := []struct {
				role    string
				account config.DefaultAccount
			}{
				{models.RoleFarmer, cfg.DefaultFarmer},
				{models.RoleExpert, cfg.DefaultExpert},
			}
			for _, entry := range accounts {
				if err := seedAccount(cmd.Context(), users, entry.role, entry.account); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func seedAccount(ctx context.Context, users repository.UserRepo, role string, account config.DefaultAccount) error {
	if account.Username == "" || account.Password == "" {
		log.Info().Str("role", role).Msg("no default account configured, skipping")
		return nil
	}

	hash, err := utils.HashPassword(account.Password)
	if err != nil {
		return fmt.Errorf("hash password for %s: %w", account.Username, err)
	}
	user := &models.User{
		Username:     account.Username,
		Email:        account.Email,
		PasswordHash: hash,
		Role:         role,
	}
	if err := users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Info().Str("username", account.Username).Msg("account already exists")
			return nil
		}
		return fmt.Errorf("create %s: %w", account.Username, err)
	}
	log.Info().Str("username", user.Username).Int64("user_id", user.ID).Str("role", role).Msg("account created")
	return nil
}

func tokenCmd() *cobra.Command {
	var (
		userID int64
		role   string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development JWT for a relay user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != models.RoleFarmer && role != models.RoleExpert {
				return fmt.Errorf("role must be %q or %q", models.RoleFarmer, models.RoleExpert)
			}
			if userID <= 0 {
				return errors.New("user-id must be positive")
			}
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return errors.New("JWT_SECRET is required")
			}

			token, err := utils.GenerateToken(strconv.FormatInt(userID, 10), role, secret)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "user id carried by the token")
	cmd.Flags().StringVar(&role, "role", models.RoleFarmer, "farmer or expert")
	return cmd
}
