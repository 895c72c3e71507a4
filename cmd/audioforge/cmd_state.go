package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"audioforge/internal/schema"
	"audioforge/internal/state"
)

// stateCmd groups state-file inspection and maintenance
var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and maintain the pipeline state file",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the canonicalized state document",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := newStore()
		doc, err := store.Read(false)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var stateDoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Validate the state file and report schema problems",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := newStore()
		doc, err := store.Read(false)
		if err != nil {
			return err
		}
		if err := schema.Validate(doc); err != nil {
			if verrs, ok := schema.AsValidationErrors(err); ok {
				for _, ve := range verrs {
					fmt.Printf("  %s: %s\n", ve.Path, ve.Msg)
				}
				return fmt.Errorf("%d schema problems", len(verrs))
			}
			return err
		}
		if err := schema.StrictValidate(doc); err != nil {
			return err
		}
		fmt.Println("state ok")
		return nil
	},
}

var stateBackupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List state backups, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		backups, err := newStore().ListBackups(0)
		if err != nil {
			return err
		}
		if len(backups) == 0 {
			fmt.Println("no backups")
			return nil
		}
		for _, b := range backups {
			fmt.Printf("  %s  %8d bytes  %s\n", b.ModTime.Format("2006-01-02 15:04:05"), b.Size, b.Path)
		}
		return nil
	},
}

var stateRestoreCmd = &cobra.Command{
	Use:   "restore [backup-path]",
	Short: "Restore the state file from a backup (latest if omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := newStore()
		if len(args) == 1 {
			if err := store.RestoreBackup(args[0]); err != nil {
				return err
			}
			fmt.Printf("restored from %s\n", args[0])
			return nil
		}
		if err := store.RestoreLatestBackup(); err != nil {
			return err
		}
		fmt.Println("restored from latest backup")
		return nil
	},
}

var stateHistoryLimit int

var stateHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the transaction audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := newStore().TransactionHistory(stateHistoryLimit)
		if err != nil {
			return err
		}
		for _, r := range records {
			mark := "ok"
			if !r.Success {
				mark = "FAILED: " + r.Error
			}
			fmt.Printf("  %s  pid %-6d  %-30s %s\n", r.Timestamp, r.PID, r.Operation, mark)
		}
		return nil
	},
}

func init() {
	stateHistoryCmd.Flags().IntVar(&stateHistoryLimit, "limit", 50, "max records to show")
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateDoctorCmd)
	stateCmd.AddCommand(stateBackupsCmd)
	stateCmd.AddCommand(stateRestoreCmd)
	stateCmd.AddCommand(stateHistoryCmd)
}

func newStore() *state.Store {
	opts := state.DefaultOptions()
	opts.BackupBeforeWrite = cfg.State.BackupBeforeWrite
	if cfg.State.BackupRetain > 0 {
		opts.BackupRetain = cfg.State.BackupRetain
	}
	store := state.New(cfg.StatePath(), opts)
	if _, err := os.Stat(cfg.StatePath()); err != nil && os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "note: %s does not exist yet\n", cfg.StatePath())
	}
	return store
}
