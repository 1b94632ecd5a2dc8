// Command gatetoken mints JWTs for gate kiosks and staff consoles. Customer
// tokens come from the external identity provider.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/iliyamo/festival-ticketing/internal/middleware"
	"github.com/iliyamo/festival-ticketing/internal/utils"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		subject string
		role    string
		device  string
		ttl     time.Duration
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "gatetoken",
		Short: "Mint a scanner or staff token signed with JWT_SECRET",
		Example: "  gatetoken --sub gate-north-1 --device kiosk-07\n" +
			"  gatetoken --sub alice --role STAFF --ttl 8h",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			if role != middleware.RoleScanner && role != middleware.RoleStaff {
				return fmt.Errorf("role must be %s or %s", middleware.RoleScanner, middleware.RoleStaff)
			}
			if role == middleware.RoleScanner && device == "" {
				return errors.New("--device is required for scanner tokens")
			}
			tok, err := utils.NewAccessToken(secret, utils.TokenClaims{Subject: subject, Role: role, Device: device, TTL: ttl})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(map[string]any{"token": tok.Token, "expires_at": tok.Exp})
			}
			_, err = fmt.Fprintln(out, tok.Token)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&subject, "sub", "", "token subject (scanner or staff id)")
	f.StringVar(&role, "role", middleware.RoleScanner, "SCANNER or STAFF")
	f.StringVar(&device, "device", "", "gate device id, keys the rate limit bucket")
	f.DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	f.BoolVar(&asJSON, "json", false, "print token and expiry as JSON")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
