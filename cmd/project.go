package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AnaaaKareem/devsecops-pipeline/internal/config"
	"github.com/AnaaaKareem/devsecops-pipeline/internal/database"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Inspect or purge project history",
}

var projectListCmd = &cobra.Command{
	Use:   "list <project>",
	Short: "List scans recorded for a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectList,
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <project>",
	Short: "Delete every scan, finding and metric for a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectDelete,
}

func init() {
	projectCmd.AddCommand(projectListCmd, projectDeleteCmd)
}

func openStore() (*database.Store, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	db, err := database.New(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return database.NewStore(db), func() { db.Close() }, nil
}

func runProjectList(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	scans, err := store.ListScans(context.Background(), args[0])
	if err != nil {
		return err
	}
	if len(scans) == 0 {
		fmt.Printf("No scans recorded for %s\n", args[0])
		return nil
	}

	for _, s := range scans {
		fmt.Printf("#%-4d %-10s %-10s %s %s\n",
			s.ID, s.Status, s.Branch, s.CommitSHA, s.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runProjectDelete(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	if err := store.DeleteProject(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted all scan history for %s\n", args[0])
	return nil
}
