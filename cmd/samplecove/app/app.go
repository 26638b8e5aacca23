// Package app provides the samplecove command tree.
package app

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/samplecove/samplecove/pkg/api"
	"github.com/samplecove/samplecove/pkg/auth"
	"github.com/samplecove/samplecove/pkg/blob"
	"github.com/samplecove/samplecove/pkg/capabilities"
	"github.com/samplecove/samplecove/pkg/captcha"
	"github.com/samplecove/samplecove/pkg/config"
	"github.com/samplecove/samplecove/pkg/groups"
	"github.com/samplecove/samplecove/pkg/logger"
	"github.com/samplecove/samplecove/pkg/mail"
	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/objects"
	"github.com/samplecove/samplecove/pkg/storage/sqlite"
	"github.com/samplecove/samplecove/pkg/users"
)

var configPath string

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "samplecove",
		Short: "Multi-tenant malware sample repository",
		Long: `samplecove is a repository service for malware samples, extracted
configurations and analysis blobs, with group-scoped sharing and a
Lucene-style query surface.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the configuration file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			store, err := sqlite.Open(ctx, cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					logger.Warnf("closing database: %v", err)
				}
			}()

			blobs, err := blob.NewLocalStore(cfg.StorageDir)
			if err != nil {
				return err
			}

			host, port := cfg.SMTPAddr()
			notifier, err := mail.NewSMTPNotifier(
				net.JoinHostPort(host, strconv.Itoa(port)), cfg.MailFrom, cfg.MailTemplatesDir)
			if err != nil {
				return err
			}

			tokens := auth.NewTokenService(store, cfg.SecretKey)
			userManager := users.NewManager(store, tokens, notifier,
				verifierOrNil(cfg.RecaptchaSecret), users.Options{
					BaseURL:            cfg.BaseURL,
					AdminLogin:         cfg.AdminLogin,
					EnableRegistration: cfg.EnableRegistration,
					EnableMaintenance:  cfg.EnableMaintenance,
				})

			return api.Serve(ctx, cfg.ListenAddress, api.Deps{
				Users:   userManager,
				Groups:  groups.NewManager(store),
				Objects: objects.NewManager(store, blobs),
				Tokens:  tokens,
				Auth:    auth.NewMiddleware(tokens, store),
				Ping:    store.DB().Ping,
			})
		},
	}
}

// verifierOrNil keeps the nil-interface pitfall out of the wiring: a typed
// nil pointer assigned to the interface would not compare equal to nil.
func verifierOrNil(secret string) captcha.Verifier {
	if v := captcha.NewRecaptchaVerifier(secret); v != nil {
		return v
	}
	return nil
}

func newInitCmd() *cobra.Command {
	var adminPassword string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the database with the public group and admin account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if adminPassword == "" {
				return fmt.Errorf("--admin-password is required")
			}

			store, err := sqlite.Open(ctx, cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := bootstrap(ctx, store, cfg.AdminLogin, adminPassword); err != nil {
				return err
			}
			logger.Infof("initialized database %s with admin account %q", cfg.DatabasePath, cfg.AdminLogin)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminPassword, "admin-password", "", "initial password of the admin account")
	return cmd
}

// instanceDefaults is the capability floor every account receives through
// the public group. The public group is immutable afterwards, so the
// floor is fixed at init time.
var instanceDefaults = []capabilities.Capability{
	capabilities.AddingTags,
	capabilities.AddingComments,
}

// bootstrap seeds the public group and the admin account. The admin's
// private group carries every capability.
func bootstrap(ctx context.Context, store *sqlite.Store, adminLogin, adminPassword string) error {
	public := &model.Group{Name: model.PublicGroupName, Capabilities: instanceDefaults}
	if err := store.CreateGroup(ctx, public); err != nil {
		return fmt.Errorf("creating public group: %w", err)
	}

	hash, err := auth.HashPassword(adminPassword)
	if err != nil {
		return err
	}
	passwordVer, err := auth.NewVersion()
	if err != nil {
		return err
	}
	identityVer, err := auth.NewVersion()
	if err != nil {
		return err
	}

	admin := &model.User{
		Login:        adminLogin,
		Email:        adminLogin + "@localhost",
		PasswordHash: hash,
		PasswordVer:  passwordVer,
		IdentityVer:  identityVer,
		FeedQuality:  "high",
	}
	if err := store.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("creating admin user: %w", err)
	}

	if err := store.UpdateGroupCapabilities(ctx, adminLogin, capabilities.All()); err != nil {
		return fmt.Errorf("granting admin capabilities: %w", err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("samplecove %s (commit %s, built %s)\n", version, commit, buildDate)
		},
	}
}

// Populated at build time via -ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)
