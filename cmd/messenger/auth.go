package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func (a *app) signupCommand() *cobra.Command {
	var email, password, fullName, phone string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account; a verification code is emailed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := passwordOrPrompt(cmd, password, "Password: ")
			if err != nil {
				return err
			}
			msg, err := a.auth.SignUp(cmd.Context(), email, pw, fullName, phone)
			if err != nil {
				return err
			}
			cmd.Println(msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when empty)")
	cmd.Flags().StringVar(&fullName, "name", "", "full name")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) loginCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := passwordOrPrompt(cmd, password, "Password: ")
			if err != nil {
				return err
			}
			user, err := a.auth.SignIn(cmd.Context(), email, pw)
			if err != nil {
				return err
			}
			cmd.Printf("signed in as %s (%s)\n", displayName(user.FullName, user.Email), user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when empty)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.auth.Logout(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("signed out")
			return nil
		},
	}
}

func (a *app) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Validate the stored session and show its user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.auth.Restore(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("%s <%s> id=%s\n", displayName(user.FullName, user.Email), user.Email, user.ID)
			return nil
		},
	}
}

func (a *app) verifyEmailCommand() *cobra.Command {
	var email, otp string
	var resend bool
	cmd := &cobra.Command{
		Use:   "verify-email",
		Short: "Confirm an email address with its one-time code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				msg string
				err error
			)
			switch {
			case resend:
				msg, err = a.auth.ResendOTP(cmd.Context(), email)
			case otp == "":
				msg, err = a.auth.SendVerificationEmail(cmd.Context(), email)
			default:
				msg, err = a.auth.VerifyEmail(cmd.Context(), email, otp)
			}
			if err != nil {
				return err
			}
			cmd.Println(msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&otp, "otp", "", "code from the email; omit to request a new one")
	cmd.Flags().BoolVar(&resend, "resend", false, "resend the pending code")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) forgotPasswordCommand() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "forgot-password",
		Short: "Email a password reset code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := a.auth.ForgotPassword(cmd.Context(), email)
			if err != nil {
				return err
			}
			cmd.Println(msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) resetPasswordCommand() *cobra.Command {
	var email, otp, password string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Verify the reset code and set a new password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if otp == "" {
				return errors.New("--otp is required")
			}
			if _, err := a.auth.VerifyForgotOTP(cmd.Context(), email, otp); err != nil {
				return err
			}
			pw, err := passwordOrPrompt(cmd, password, "New password: ")
			if err != nil {
				return err
			}
			msg, err := a.auth.ResetPassword(cmd.Context(), email, pw)
			if err != nil {
				return err
			}
			cmd.Println(msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&otp, "otp", "", "code from the reset email")
	cmd.Flags().StringVar(&password, "password", "", "new password (prompted when empty)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// passwordOrPrompt returns flagValue, or reads a password from the terminal
// without echo.
func passwordOrPrompt(cmd *cobra.Command, flagValue, prompt string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("--password is required when stdin is not a terminal")
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func displayName(fullName, fallback string) string {
	if fullName != "" {
		return fullName
	}
	return fallback
}
