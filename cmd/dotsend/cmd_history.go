package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jask/dotsend/internal/database/repository"
)

func (c *cli) historyCmd() *cobra.Command {
	var f repository.TransferFilters
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded transfers, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.cfg.Database.Enabled {
				return errors.New("transfer journal is disabled (database.enabled = false)")
			}
			db, repo, err := openJournal(c.cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			rows, err := repo.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("no transfers"))
				return nil
			}
			for _, t := range rows {
				detail := ""
				switch {
				case t.BlockHash != nil:
					detail = *t.BlockHash
				case t.Error != nil:
					detail = *t.Error
				}
				amount := t.DisplayAmount
				if amount == "" {
					amount = t.Amount
				}
				fmt.Fprintf(out, "%s  %-9s %s -> %s  %s\n",
					t.CreatedAt.Local().Format("2006-01-02 15:04"), t.Status, amount, t.Receiver, mutedStyle.Render(detail))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.Sender, "sender", "", "Only transfers from this address")
	cmd.Flags().StringVar(&f.Status, "status", "", "Only transfers in this status (submitted, inBlock, failed)")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 20, "Maximum rows")
	return cmd
}
