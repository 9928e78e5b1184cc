package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jmcleod/showcase/identity"
)

var (
	adminEmail    string
	passwordStdin bool
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage admin identities",
	Long:  `Commands for provisioning admin identities and resetting their passwords.`,
}

var adminCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision a new admin identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd, true)
		if err != nil {
			return err
		}
		return withIdentities(cmd, func(ctx context.Context, store *identity.Store) error {
			id, err := createAdmin(ctx, store, adminEmail, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created admin %s (id %s)\n", id.Email, id.ID)
			return nil
		})
	},
}

var adminPasswdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Set a new password for an admin identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd, true)
		if err != nil {
			return err
		}
		return withIdentities(cmd, func(ctx context.Context, store *identity.Store) error {
			if err := resetPassword(ctx, store, adminEmail, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password updated for %s\n", adminEmail)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminCreateCmd, adminPasswdCmd)
	adminCmd.PersistentFlags().StringVar(&adminEmail, "email", "", "Admin email address")
	adminCmd.PersistentFlags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin instead of prompting")
	_ = adminCmd.MarkPersistentFlagRequired("email")
}

func withIdentities(cmd *cobra.Command, fn func(context.Context, *identity.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, closeRepo, err := openRepository(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeRepo()
	return fn(cmd.Context(), identity.NewStore(repo))
}

func createAdmin(ctx context.Context, store *identity.Store, email, password string) (identity.Identity, error) {
	id, err := store.Create(ctx, email, password, identity.RoleAdmin)
	if errors.Is(err, identity.ErrEmailTaken) {
		return identity.Identity{}, fmt.Errorf("an identity with email %s already exists", email)
	}
	return id, err
}

func resetPassword(ctx context.Context, store *identity.Store, email, password string) error {
	id, err := store.GetByEmail(ctx, email)
	if errors.Is(err, identity.ErrNotFound) {
		return fmt.Errorf("no identity with email %s", email)
	}
	if err != nil {
		return err
	}
	return store.SetPassword(ctx, id.ID, password)
}

// readPassword reads one line from stdin with --password-stdin, otherwise
// prompts on the terminal without echo.
func readPassword(cmd *cobra.Command, confirm bool) (string, error) {
	if passwordStdin {
		return readPasswordLine(cmd.InOrStdin())
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal; use --password-stdin")
	}
	prompt := func(label string) (string, error) {
		fmt.Fprint(cmd.ErrOrStderr(), label)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		return string(b), err
	}
	password, err := prompt("Password: ")
	if err != nil {
		return "", err
	}
	if confirm {
		again, err := prompt("Confirm password: ")
		if err != nil {
			return "", err
		}
		if again != password {
			return "", errors.New("passwords do not match")
		}
	}
	return password, nil
}

func readPasswordLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}
