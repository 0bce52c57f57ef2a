package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mailgate/mailgate/internal/db"
	"github.com/mailgate/mailgate/internal/keys"
	"github.com/mailgate/mailgate/internal/models"
)

var (
	apikeyName       string
	apikeyLimit      int
	apikeyRecipients []string
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "API key management commands",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	Long:  `Create a new API key. The plain key is printed once and cannot be recovered.`,
	RunE:  runAPIKeyCreate,
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all API keys",
	RunE:  runAPIKeyList,
}

var apikeyActivateCmd = &cobra.Command{
	Use:   "activate [id]",
	Short: "Re-enable an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyActivate,
}

var apikeyDeactivateCmd = &cobra.Command{
	Use:   "deactivate [id]",
	Short: "Disable an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyDeactivate,
}

func init() {
	apikeyCreateCmd.Flags().StringVar(&apikeyName, "name", "", "Key name (required)")
	apikeyCreateCmd.Flags().IntVar(&apikeyLimit, "daily-limit", 0, "Daily quota override (0 = system default)")
	apikeyCreateCmd.Flags().StringSliceVar(&apikeyRecipients, "allow-recipient", nil, "Restrict the key to these recipients (repeatable)")
	apikeyCreateCmd.MarkFlagRequired("name")

	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyListCmd, apikeyActivateCmd, apikeyDeactivateCmd)
	rootCmd.AddCommand(apikeyCmd)
}

func openKeyRepo() (*keys.Repository, *db.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	database, err := db.New(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, nil, err
	}

	return keys.NewRepository(database.DB), database, nil
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	repo, database, err := openKeyRepo()
	if err != nil {
		return err
	}
	defer database.Close()

	result, err := repo.Create(context.Background(), keys.CreateOptions{
		Name:              apikeyName,
		DailyLimit:        apikeyLimit,
		AllowedRecipients: apikeyRecipients,
	})
	if err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}

	fmt.Printf("API key created\n\n")
	fmt.Printf("  ID:   %s\n", result.ID)
	fmt.Printf("  Name: %s\n", result.Name)
	if result.DailyLimit > 0 {
		fmt.Printf("  Daily limit: %d\n", result.DailyLimit)
	} else {
		fmt.Printf("  Daily limit: system default\n")
	}
	fmt.Printf("\n  Key: %s\n\n", result.Key)
	fmt.Println("Store the key now; it cannot be shown again.")
	return nil
}

func runAPIKeyList(cmd *cobra.Command, args []string) error {
	repo, database, err := openKeyRepo()
	if err != nil {
		return err
	}
	defer database.Close()

	list, err := repo.List(context.Background(), models.APIKeyFilter{})
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	fmt.Printf("%-36s  %-20s  %-12s  %-8s  %-6s  %s\n", "ID", "Name", "Prefix", "Active", "Limit", "Sent")
	fmt.Println(strings.Repeat("-", 100))
	for _, k := range list {
		active := "yes"
		if !k.Active {
			active = "no"
		}
		limit := "default"
		if k.DailyLimit > 0 {
			limit = fmt.Sprintf("%d", k.DailyLimit)
		}
		fmt.Printf("%-36s  %-20s  %-12s  %-8s  %-6s  %d\n", k.ID, k.Name, k.KeyPrefix, active, limit, k.TotalSent)
	}
	return nil
}

func runAPIKeyActivate(cmd *cobra.Command, args []string) error {
	return setAPIKeyActive(args[0], true)
}

func runAPIKeyDeactivate(cmd *cobra.Command, args []string) error {
	return setAPIKeyActive(args[0], false)
}

func setAPIKeyActive(id string, active bool) error {
	repo, database, err := openKeyRepo()
	if err != nil {
		return err
	}
	defer database.Close()

	if active {
		err = repo.Activate(context.Background(), id)
	} else {
		err = repo.Deactivate(context.Background(), id)
	}
	if err != nil {
		return err
	}

	state := "activated"
	if !active {
		state = "deactivated"
	}
	fmt.Printf("API key %s %s\n", id, state)
	return nil
}
