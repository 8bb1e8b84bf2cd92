package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cowork-ai/cowork/internal/storage"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		store, err := storage.Open(filepath.Join(home, ".cowork", "sessions.db"))
		if err != nil {
			return err
		}
		defer store.Close()

		list, err := store.List(context.Background())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("no stored sessions")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tMODEL\tMSGS\tUPDATED")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s/%s\t%d\t%s\n",
				s.SessionID, s.Title, s.Status, s.Provider, s.Model, s.MessageCount,
				time.UnixMilli(s.UpdatedAt).Format(time.RFC3339))
		}
		return w.Flush()
	},
}
