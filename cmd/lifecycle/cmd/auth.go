package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-auth-lifecycle/internal/errors"
	"github.com/jrsteele09/go-auth-lifecycle/internal/store/sqlite"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
	loginForce    bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in, store the token set and open a session",
	Long: `Sign in to the identity backend and open this client's session. The password
is read from --password, then LIFECYCLE_PASSWORD, then the first line of stdin.
Under the reject session policy an existing session is only displaced with --force.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginEmail == "" {
			return fmt.Errorf("--email is required")
		}
		password, err := readPassword(cmd)
		if err != nil {
			return err
		}

		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		client, err := a.identityClient()
		if err != nil {
			return err
		}
		registry, err := a.registry()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		p, err := client.Login(ctx, loginEmail, password)
		if err != nil {
			return err
		}
		if p == nil {
			if p, err = client.Check(ctx); err != nil {
				return err
			}
		}
		if err := sqlite.NewPrincipalRepo(a.db).Upsert(ctx, p); err != nil {
			return err
		}

		res, err := registry.Login(ctx, cfg.GetSessionPolicy(), loginForce, p.ID, clientHost(), cliAgent())
		if err != nil {
			// No session, so the tokens must not outlive this command
			if logoutErr := client.Logout(ctx); logoutErr != nil {
				log.Warn().Err(logoutErr).Msg("could not discard tokens after refused session")
			}
			if errors.Is(err, apperrors.ErrActiveSessionExists) {
				return fmt.Errorf("%w; rerun with --force to replace it", err)
			}
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%s)\n", p.ID, p.Role)
		if prev := res.Previous; prev != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "replaced the session opened from %s at %s\n",
				prev.ClientAddress, prev.CreatedAt.Local().Format(time.RFC1123))
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored sign-in state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		client, err := a.identityClient()
		if err != nil {
			return err
		}
		s, err := client.Status(cmd.Context())
		if err != nil {
			return err
		}
		if s.ExpiresAt == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", s.State)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s, access token expires %s\n", s.State, s.ExpiresAt.Local().Format(time.RFC1123))
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Ask the backend who the current token belongs to",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		client, err := a.identityClient()
		if err != nil {
			return err
		}
		p, err := client.Check(cmd.Context())
		if err != nil {
			return err
		}
		if err := sqlite.NewPrincipalRepo(a.db).Upsert(cmd.Context(), p); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", p.ID, p.Email, p.Role)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out locally and remotely",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		client, err := a.identityClient()
		if err != nil {
			return err
		}
		registry, err := a.registry()
		if err != nil {
			return err
		}

		// The backend names the principal whose session to close; without it the
		// session is left to the idle timeout
		if p, err := client.Check(cmd.Context()); err != nil {
			log.Warn().Err(err).Msg("could not identify principal; session not cleared")
		} else if err := registry.ClearSession(cmd.Context(), p.ID); err != nil {
			return err
		}

		if err := client.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "signed out")
		return nil
	},
}

// clientHost is recorded as the session's client address.
func clientHost() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}

func cliAgent() string {
	return "lifecycle-cli/" + instanceID
}

func readPassword(cmd *cobra.Command) (string, error) {
	if loginPassword != "" {
		return loginPassword, nil
	}
	if env := os.Getenv("LIFECYCLE_PASSWORD"); env != "" {
		return env, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return "", fmt.Errorf("password is required")
	}
	return line, nil
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "account password (prefer LIFECYCLE_PASSWORD or stdin)")
	loginCmd.Flags().BoolVar(&loginForce, "force", false, "replace an existing session under the reject policy")
	rootCmd.AddCommand(loginCmd, statusCmd, checkCmd, logoutCmd)
}
