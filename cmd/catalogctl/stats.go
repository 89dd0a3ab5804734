// cmd/catalogctl/stats.go
package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/animeverse/catalog-go/internal/model"
	"github.com/spf13/cobra"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the admin dashboard: totals, top works and recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.services()
			if err != nil {
				return err
			}
			stats, err := svc.accounts.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON || !isTerminal(cmd.OutOrStdout()) {
				return writeJSON(cmd, stats)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStats(stats))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON even on a terminal")
	return cmd
}

func renderStats(s *model.Stats) string {
	o := s.Overview
	overview := renderTable("Overview", []string{"Metric", "Value"}, [][]string{
		{"Users", count(o.TotalUsers)},
		{"New users (30 days)", count(o.NewUsersLast30d)},
		{"Works", count(o.TotalWorks)},
		{"Videos", count(o.TotalVideos)},
		{"Novels", count(o.TotalNovels)},
		{"Views", count(o.TotalViews)},
	}, []columnAlignment{alignLeft, alignRight})

	top := make([][]string, 0, len(s.TopWorks))
	for i, w := range s.TopWorks {
		top = append(top, []string{strconv.Itoa(i + 1), w.Title, string(w.Kind()), w.Category, count(w.Views)})
	}
	topWorks := renderTable("Top works", []string{"#", "Title", "Type", "Category", "Views"}, top,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight})

	recent := make([][]string, 0, len(s.RecentActivity))
	for _, a := range s.RecentActivity {
		actor := "-"
		if a.Account != nil {
			actor = a.Account.Username
		}
		recent = append(recent, []string{a.CreatedAt.Local().Format(time.DateTime), string(a.Type), actor, a.Description})
	}
	activity := renderTable("Recent activity", []string{"When", "Type", "User", "Description"}, recent, nil)

	return overview + "\n\n" + topWorks + "\n\n" + activity
}

func count(n int64) string {
	return strconv.FormatInt(n, 10)
}
