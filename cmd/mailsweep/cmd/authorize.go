package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailsweep/mailsweep/internal/oauth"
)

var (
	authorizeHeadless bool
	authorizeForce    bool
)

var authorizeCmd = &cobra.Command{
	Use:   "authorize [email]",
	Short: "Authorize a Gmail account via OAuth",
	Long: `Authorize a Gmail account by completing the OAuth2 flow.

By default, opens a browser for authorization. Use --headless on servers
without a browser to authorize via a code flow on another device.

If a token already exists, the command skips authorization. Use --force to
delete the existing token and re-authorize (useful when a token has expired
or been revoked).

With no email argument, the [oauth] account from config.toml is used.

Examples:
  mailsweep authorize you@gmail.com
  mailsweep authorize you@gmail.com --headless
  mailsweep authorize --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var email string
		if len(args) == 1 {
			email = args[0]
		} else {
			var err error
			email, err = activeAccount()
			if err != nil {
				return err
			}
		}

		if cfg.OAuth.ClientSecrets == "" {
			return errOAuthNotConfigured()
		}

		mgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokensDir(), logger)
		if err != nil {
			return wrapOAuthError(fmt.Errorf("create oauth manager: %w", err))
		}

		// If --force, delete existing token so we re-authorize
		if authorizeForce && mgr.HasToken(email) {
			fmt.Printf("Removing existing token for %s...\n", email)
			if err := mgr.DeleteToken(email); err != nil {
				return fmt.Errorf("delete existing token: %w", err)
			}
		}

		if mgr.HasToken(email) {
			fmt.Printf("Account %s is already authorized.\n", email)
			fmt.Println("To re-authorize (e.g., expired token), run: mailsweep authorize", email, "--force")
			return nil
		}

		if authorizeHeadless {
			fmt.Println("Starting device authorization...")
		} else {
			fmt.Println("Starting browser authorization...")
		}

		if err := mgr.Authorize(cmd.Context(), email, authorizeHeadless); err != nil {
			return fmt.Errorf("authorization failed: %w", err)
		}

		fmt.Printf("\nAccount %s authorized successfully!\n", email)
		fmt.Println("Next step: mailsweep analyze")

		return nil
	},
}

func init() {
	authorizeCmd.Flags().BoolVar(&authorizeHeadless, "headless", false, "Authorize without a local browser (device code flow)")
	authorizeCmd.Flags().BoolVar(&authorizeForce, "force", false, "Delete existing token and re-authorize (use when token is expired or revoked)")
	rootCmd.AddCommand(authorizeCmd)
}
