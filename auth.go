package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/cpan115/pan115-go/internal/config"
	"github.com/cpan115/pan115-go/internal/credstore"
	"github.com/cpan115/pan115-go/internal/pan"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate with 115 using the browser",
		RunE:  runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove saved credentials",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated account",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	if err := requireClientID(); err != nil {
		return err
	}

	logger.Info("login started")

	_, err := pan.Login(cmd.Context(), authConfig(), config.CredentialPath(), openBrowser, logger)
	if err != nil {
		return err
	}

	statusf("Login successful.\n")

	return nil
}

// openBrowser launches the platform's URL opener.
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "linux":
		return exec.Command("xdg-open", url).Start()
	default:
		return fmt.Errorf("no browser launcher for %s", runtime.GOOS)
	}
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	if err := pan.Logout(config.CredentialPath(), logger); err != nil {
		return err
	}

	statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	IsVIP bool   `json:"is_vip"`
	Space int64  `json:"space_bytes"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	client, err := apiClient(logger)
	if err != nil {
		return err
	}

	user, err := client.UserInfo(ctx)
	if err != nil {
		return fmt.Errorf("fetching account info: %w", err)
	}

	cacheUserMeta(user, logger)

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(whoamiOutput{ID: user.ID, Name: user.Name, IsVIP: user.IsVIP, Space: user.Space})
	}

	fmt.Printf("User:  %s\n", user.Name)
	fmt.Printf("ID:    %s\n", user.ID)
	fmt.Printf("VIP:   %t\n", user.IsVIP)
	fmt.Printf("Space: %s\n", formatSize(user.Space))

	return nil
}

// cacheUserMeta stores the account name in the credential file so later
// commands can show it without an API call. Best-effort.
func cacheUserMeta(user *pan.User, logger *slog.Logger) {
	meta := map[string]string{"user_id": user.ID, "user_name": user.Name}
	if err := credstore.MergeMeta(config.CredentialPath(), meta); err != nil {
		logger.Warn("caching account metadata failed", slog.String("error", err.Error()))
	}
}
