package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nfcunha/vpsmanager/core/auth"
	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/core/repository"
	"nfcunha/vpsmanager/database"
	"nfcunha/vpsmanager/utils/config"
	"nfcunha/vpsmanager/utils/logger"

	"github.com/spf13/cobra"
)

var (
	userUsername string
	userPassword string
	userName     string
	userRole     string

	tokenUsername string
	tokenUserID   string
	tokenRole     string
	tokenTTL      time.Duration
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := database.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", cfg.Database.Path)
		return nil
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage dashboard accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a dashboard account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if userUsername == "" || userPassword == "" {
			return fmt.Errorf("--username and --password are required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := database.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		hash, err := auth.HashPassword(userPassword)
		if err != nil {
			return err
		}

		name := userName
		if name == "" {
			name = userUsername
		}
		role := strings.ToUpper(userRole)
		if role == "" {
			role = cfg.Auth.AdminRole
		}

		user := &models.User{Username: userUsername, Name: name, PasswordHash: hash, Role: role}
		if err := repository.NewUserRepository(db.DB).Create(context.Background(), user); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s) with id %s\n", user.Username, user.Role, user.ID)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage session tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Print a signed session token for scripted access",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUsername == "" {
			return fmt.Errorf("--username is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must be set to issue tokens the server will accept")
		}

		ttl := tokenTTL
		if ttl <= 0 {
			ttl = cfg.Auth.TokenTTL
		}
		role := tokenRole
		if role == "" {
			role = cfg.Auth.AdminRole
		}
		id := tokenUserID
		if id == "" {
			id = tokenUsername
		}

		token, err := auth.NewIssuer(cfg.Auth.JWTSecret, ttl).Issue(id, tokenUsername, role)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userUsername, "username", "", "login name")
	userAddCmd.Flags().StringVar(&userPassword, "password", "", "password (stored as a bcrypt hash)")
	userAddCmd.Flags().StringVar(&userName, "name", "", "display name (default: username)")
	userAddCmd.Flags().StringVar(&userRole, "role", "", "role (default: the configured admin role)")

	tokenIssueCmd.Flags().StringVar(&tokenUsername, "username", "", "username carried in the token")
	tokenIssueCmd.Flags().StringVar(&tokenUserID, "id", "", "user id carried in the token (default: username)")
	tokenIssueCmd.Flags().StringVar(&tokenRole, "role", "", "role (default: the configured admin role)")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: auth.token_ttl)")
}

// loadConfig reads the configuration and installs the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Setup(cfg.Log)
	return cfg, nil
}
