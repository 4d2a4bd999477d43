package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"lms/internal/database"
	"lms/internal/models"
	"lms/internal/services"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(*cobra.Command, []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := database.Migrate(a.db); err != nil {
				return err
			}
			slog.Info("migrations applied", "driver", a.cfg.Database.Driver)
			return nil
		},
	}
}

// sweepCmd runs the overdue sweep and reservation expiry once, or on an
// interval with --every.
func sweepCmd() *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Recompute overdue fines and expire lapsed reservations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()
			lifecycle, err := a.lifecycle()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := runSweep(ctx, lifecycle); err != nil || every <= 0 {
				return err
			}
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := runSweep(ctx, lifecycle); err != nil {
						slog.Error("sweep failed", "err", err)
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "repeat on this interval until interrupted")
	return cmd
}

func runSweep(ctx context.Context, lifecycle services.LifecycleService) error {
	report, err := lifecycle.SweepOverdue(ctx)
	if err != nil {
		return fmt.Errorf("overdue sweep: %w", err)
	}
	expired, err := lifecycle.ExpireReservations(ctx)
	if err != nil {
		return fmt.Errorf("expire reservations: %w", err)
	}
	slog.Info("sweep complete", "checked", report.Checked, "updated", report.Updated, "expired_reservations", expired)
	return nil
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}
	cmd.AddCommand(userCreateCmd())
	return cmd
}

// userCreateCmd is the only way to create librarian and admin accounts.
func userCreateCmd() *cobra.Command {
	var in services.RegisterInput
	var role string
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account with any role",
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(passwordStdin)
			if err != nil {
				return err
			}
			in.Password, in.PasswordConfirm = password, password
			in.UserType = models.UserType(role)

			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()
			membership := services.NewMembershipService(a.db, a.repos, a.tokens)
			user, err := membership.Register(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", user.UserType, user.Username, user.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Username, "username", "", "login name")
	f.StringVar(&in.Email, "email", "", "email address")
	f.StringVar(&in.FirstName, "first-name", "", "first name")
	f.StringVar(&in.LastName, "last-name", "", "last name")
	f.StringVar(&role, "role", string(models.UserTypeLibrarian), "student, librarian or admin")
	f.BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin instead of prompting")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// readPassword prompts twice on a terminal, or reads one line from stdin.
func readPassword(fromStdin bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if fromStdin || !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	fmt.Fprint(os.Stderr, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords don't match")
	}
	return string(first), nil
}
