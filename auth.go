package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/recipevault/internal/auth"
)

// envPassword lets scripts sign in without putting the password on the
// command line.
const envPassword = "RECIPEVAULT_PASSWORD"

func newLoginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the recipe server",
		Long: `Sign in with your email and password. The token is saved in the data
directory, so later commands work offline and sync picks up where it left off.

The password can also be given through ` + envPassword + `.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd, email, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (default $"+envPassword+")")

	if err := cmd.MarkFlagRequired("email"); err != nil {
		panic(err)
	}

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved login",
		Long:  "Remove the saved token. Local recipes stay in the database.",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, email, password string) error {
	cc := mustCLIContext(cmd.Context())

	if password == "" {
		password = os.Getenv(envPassword)
	}

	if password == "" {
		return fmt.Errorf("password required: pass --password or set %s", envPassword)
	}

	cc.Logger.Info("login started", "email", email)

	sess, err := auth.Login(cmd.Context(), authConfig(cc), email, password)
	if err != nil {
		return err
	}

	cc.Logger.Info("login successful", "owner", sess.OwnerID())
	cc.Statusf("Signed in as %s.\n", sess.Email())

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := auth.Logout(cc.Cfg.TokenPath, cc.Logger); err != nil {
		return err
	}

	cc.Statusf("Signed out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	OwnerID     string     `json:"owner_id"`
	Email       string     `json:"email"`
	TokenExpiry *time.Time `json:"token_expiry,omitempty"`
	Server      string     `json:"server"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	sess, err := openSession(cc)
	if err != nil {
		if errors.Is(err, errNotSignedIn) && !cc.Flags.JSON {
			fmt.Fprintln(cc.Stdout, "Not logged in.")
			return nil
		}

		return err
	}

	out := whoamiOutput{
		OwnerID: sess.OwnerID(),
		Email:   sess.Email(),
		Server:  cc.Cfg.APIURL,
	}

	if exp := sess.Expiry(); !exp.IsZero() {
		out.TokenExpiry = &exp
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, out)
	}

	fmt.Fprintf(cc.Stdout, "Email:   %s\n", out.Email)
	fmt.Fprintf(cc.Stdout, "User ID: %s\n", out.OwnerID)
	fmt.Fprintf(cc.Stdout, "Server:  %s\n", out.Server)

	if out.TokenExpiry != nil {
		state := "valid"
		if out.TokenExpiry.Before(time.Now()) {
			state = "expired, refreshed on next sync"
		}

		fmt.Fprintf(cc.Stdout, "Token:   %s (expires %s)\n", state, formatTime(*out.TokenExpiry))
	}

	return nil
}
