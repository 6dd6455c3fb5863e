package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/poelink/amrlink/internal/api"
	"github.com/poelink/amrlink/internal/config"
)

// --- check ---

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run an immediate backend health check",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Checking backend...")
		status, err := client.checkBackend(cmd.Context())
		if err != nil {
			return err
		}
		printBackendStatus(status)
		return nil
	},
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored chat sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		sessions, err := client.sessions(cmd.Context())
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		for _, sess := range sessions {
			updated := time.UnixMilli(sess.UpdatedAt).Local().Format("2006-01-02 15:04")
			title := sess.Title
			if len(title) > 60 {
				title = title[:60] + "..."
			}
			fmt.Printf("%s  %s  %s (%d messages)\n",
				colorize(colorCyan, sess.ID),
				updated,
				title,
				len(sess.Messages),
			)
		}
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
}

// --- reset ---

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear stored chat history (or everything with --all)",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			if all {
				printWarning("This will delete ALL stored data, including settings. Use --confirm to proceed.")
			} else {
				printWarning("This will delete all chat sessions. Use --confirm to proceed.")
			}
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		reqType := "STORAGE_CLEAR_CHAT_HISTORY"
		if all {
			reqType = "STORAGE_CLEAR_ALL"
		}
		if _, err := client.message(cmd.Context(), api.Request{Type: reqType}); err != nil {
			return err
		}

		if all {
			printSuccess("All stored data cleared")
		} else {
			printSuccess("Chat history cleared")
		}
		return nil
	},
}

func init() {
	resetCmd.Flags().Bool("all", false, "also clear settings, disclaimer state, and backend status")
	resetCmd.Flags().Bool("confirm", false, "confirm the reset")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update daemon configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current daemon configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a daemon configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
