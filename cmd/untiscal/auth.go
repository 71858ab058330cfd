package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"untiscal/internal/calendar"
	"untiscal/internal/errs"
	appLog "untiscal/internal/log"
)

var authCode string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize calendar access and store the OAuth token",
	Long: `Print the Google consent URL, read the authorization code and save the
token next to the configured credentials. Works on headless machines: open
the URL anywhere, then paste the code here or pass it with --code.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		oc, err := calendar.OAuthConfig(cfg.Calendar.Credentials)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		code := strings.TrimSpace(authCode)
		if code == "" {
			url := oc.AuthCodeURL(uuid.NewString(), oauth2.AccessTypeOffline, oauth2.ApprovalForce)
			fmt.Fprintf(out, "Open this URL and authorize calendar access:\n\n  %s\n\nAuthorization code: ", url)
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return errs.Wrap(err, errs.CodeInvalidInput, "read authorization code")
			}
			code = strings.TrimSpace(line)
		}
		if code == "" {
			return errs.New(errs.CodeInvalidInput, "empty authorization code")
		}

		if err := calendar.ExchangeCode(cmd.Context(), oc, code, cfg.Calendar.Token); err != nil {
			return err
		}
		appLog.Info("token saved", "path", cfg.Calendar.Token)
		fmt.Fprintln(out, "token saved to", cfg.Calendar.Token)
		return nil
	},
}

func init() {
	authCmd.Flags().StringVar(&authCode, "code", "", "Authorization code (skips the prompt)")
	rootCmd.AddCommand(authCmd)
}
