package main

import (
	"context"
	"fmt"
	"os"

	"scribe-go/internal/app"
	"scribe-go/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "ImportDocument").
func newApp(ctx context.Context, operation string) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// unlock asks for the passphrase when payloads are encrypted.
func unlock(a *app.App) error {
	if !a.EncryptionEnabled() {
		return nil
	}
	passphrase, err := readPassphrase("Passphrase: ")
	if err != nil {
		return err
	}
	return a.Unlock(passphrase)
}

var rootCmd = &cobra.Command{
	Use:          "scribe",
	Short:        "Versioned backups for transcription documents",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])
		if logDir := defaults["log_dir"]; logDir != "" {
			cfg.LogDir = logDir
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		if err := app.InitStorage(cmd.Context(), cfg); err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		if cfg.Encryption.Enabled() {
			fmt.Println("Run 'scribe config keys' to generate the encryption keys.")
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		rows := [][]string{
			{"Host ID", cfg.HostID},
			{"Base Dir", cfg.BaseDir},
			{"Log Dir", cfg.LogDir},
			{"Database", cfg.Database.Type + " " + cfg.Database.DataDir},
			{"Encryption", cfg.Encryption.Type},
			{"Change threshold", fmt.Sprint(cfg.Policy.ChangeThreshold)},
			{"Full interval", cfg.Policy.FullInterval},
			{"Autosave", cfg.AutoSave.Interval},
			{"Keep versions", fmt.Sprint(cfg.Retention.KeepVersions)},
		}
		for _, v := range cfg.Vaults {
			rows = append(rows, []string{"Vault " + v.Name, vaultLocation(v)})
		}
		printTable(os.Stdout, []string{"Setting", "Value"}, rows, nil)
		return nil
	},
}

func vaultLocation(v config.VaultConfig) string {
	switch v.Type {
	case "filesystem":
		return "filesystem " + v.FSVaultRoot
	case "s3":
		return fmt.Sprintf("s3://%s/%s", v.S3Bucket, v.S3Prefix)
	default:
		return v.Type
	}
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		passphrase, err := readNewPassphrase()
		if err != nil {
			return err
		}
		if err := app.SetupEncryption(cfg, passphrase); err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		fmt.Printf("Keys written to %s and %s\n", cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

var configVaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage vault",
}

var configVaultCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify vault access",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ValidateVault")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ValidateVault(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Vault is reachable.")
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "ListOperations")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.Operations(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		rows := make([][]string, 0, len(ops))
		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				duration = formatDuration(op.FinishedAt.Sub(op.StartedAt))
			}
			rows = append(rows, []string{
				fmt.Sprintf("#%d", op.ID),
				op.Operation,
				formatTime(op.StartedAt),
				op.Status,
				duration,
				op.Parameters,
			})
		}
		printTable(os.Stdout,
			[]string{"ID", "Operation", "Started", "Status", "Duration", "Parameters"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft})
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)
	configCmd.AddCommand(configVaultCmd)
	configVaultCmd.AddCommand(configVaultCheckCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(docCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
