package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/runway/internal/config"
	"github.com/harun/runway/pkg/session"
)

var sessionsUserID string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions for a user",
	RunE:  runSessionsList,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a stored session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.PersistentFlags().StringVar(&sessionsUserID, "user", "local", "user id")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func openSessionStore() (*config.Config, *session.SQLiteService, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, nil, err
	}
	store, err := session.NewSQLiteService(cfg.Sessions.Path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	cfg, store, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := store.List(cmd.Context(), cfg.AppName, sessionsUserID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	cfg, store, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(cmd.Context(), cfg.AppName, sessionsUserID, args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted session %s\n", args[0])
	return nil
}
