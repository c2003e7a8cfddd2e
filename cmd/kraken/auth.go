package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var flagPasswordFile string

func init() {
	loginCmd.Flags().StringVar(&flagPasswordFile, "password-file", "", "read the password from a file, - reads it from stdin")
}

var loginCmd = &cobra.Command{
	Use:   "login EMAIL [PASSWORD]",
	Short: "authenticate this machine and store the access token",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  doLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "forget the stored access token",
	Args:  cobra.NoArgs,
	RunE:  doLogout,
}

func doLogin(cmd *cobra.Command, args []string) error {
	email := args[0]
	password, err := readPassword(cmd, args)
	if err != nil {
		return err
	}

	client, err := apiClient(true)
	if err != nil {
		return err
	}
	token, err := client.Login(cmd.Context(), email, password)
	if err != nil {
		return err
	}

	store, err := credentials()
	if err != nil {
		return err
	}
	if err := store.Store(token); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", email)
	return nil
}

func doLogout(cmd *cobra.Command, _ []string) error {
	store, err := credentials()
	if err != nil {
		return err
	}
	if err := store.Clear(); err != nil {
		return fmt.Errorf("removing token: %w", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "logged out")
	return nil
}

// readPassword takes the password from the arguments, from --password-file or
// from an interactive prompt with echo disabled.
func readPassword(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 2 {
		return args[1], nil
	}

	switch flagPasswordFile {
	case "":
	case "-":
		return readSecret(cmd.InOrStdin())
	default:
		f, err := os.Open(flagPasswordFile)
		if err != nil {
			return "", fmt.Errorf("reading password file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		return readSecret(f)
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal available for interactive password prompt (use --password-file)")
	}
	_, _ = fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	raw, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(raw), nil
}

// readSecret returns the first line of r.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is empty")
	}
	return line, nil
}
