package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiFlag string
	keyFlag string
	rootCmd = &cobra.Command{
		Use:   "crusoctl",
		Short: "CLI client for the chat service REST API",
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", "http://localhost:8080", "Chat service base URL")
	rootCmd.PersistentFlags().StringVarP(&keyFlag, "key", "k", "", "API key (Bearer token)")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Show service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(apiFlag, os.Stdout)
		},
	}
	rootCmd.AddCommand(healthCmd)

	chatCmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send one chat message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conversation, _ := cmd.Flags().GetString("conversation")
			return runChat(apiFlag, keyFlag, conversation, args[0], os.Stdout)
		},
	}
	chatCmd.Flags().StringP("conversation", "c", "", "Existing conversation ID (omit to start a new one)")
	rootCmd.AddCommand(chatCmd)

	conversationsCmd := &cobra.Command{
		Use:   "conversations",
		Short: "List conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListConversations(apiFlag, keyFlag, os.Stdout)
		},
	}
	rootCmd.AddCommand(conversationsCmd)

	documentsCmd := &cobra.Command{
		Use:   "documents",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListDocuments(apiFlag, keyFlag, os.Stdout)
		},
	}
	rootCmd.AddCommand(documentsCmd)

	uploadCmd := &cobra.Command{
		Use:   "upload [file]",
		Short: "Upload a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(apiFlag, keyFlag, args[0], os.Stdout)
		},
	}
	rootCmd.AddCommand(uploadCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
