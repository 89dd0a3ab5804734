// cmd/catalogctl/commands.go
package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/animeverse/catalog-go/internal/catalog"
	"github.com/animeverse/catalog-go/internal/model"
	"github.com/animeverse/catalog-go/internal/storage"
	"github.com/spf13/cobra"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.open()
			if err != nil {
				return err
			}
			if err := store.Ping(cmd.Context()); err != nil {
				return fmt.Errorf("ping store: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func newCreateAdminCommand(ctx *commandContext) *cobra.Command {
	var username, email, password string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an account with the admin role",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.services()
			if err != nil {
				return err
			}
			a, err := svc.accounts.CreateAdmin(cmd.Context(), username, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (id %d, %s)\n", a.Username, a.ID, a.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "admin", "Username")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&password, "password", "", "Password (6-72 characters)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

// sampleWorks is the demo catalog created by seed.
var sampleWorks = []catalog.WorkInput{
	{
		Title:        "Attack on Titan",
		Description:  "Humanity's last stand against giant humanoid creatures known as Titans.",
		Kind:         string(model.KindVideo),
		Category:     "Action",
		ThumbnailURL: "https://via.placeholder.com/300x200/FF6B6B/FFFFFF?text=AOT",
		Media:        catalog.MediaInput{VideoURL: "https://sample-videos.com/zip/10/mp4/SampleVideo_1280x720_1mb.mp4"},
	},
	{
		Title:        "One Piece",
		Description:  "A legendary pirate adventure across the Grand Line in search of the ultimate treasure.",
		Kind:         string(model.KindVideo),
		Category:     "Adventure",
		ThumbnailURL: "https://via.placeholder.com/300x200/4ECDC4/FFFFFF?text=OP",
		Media:        catalog.MediaInput{VideoURL: "https://sample-videos.com/zip/10/mp4/SampleVideo_1280x720_1mb.mp4"},
	},
	{
		Title:        "Death Note",
		Description:  "A high school student discovers a supernatural notebook that can kill anyone whose name is written in it.",
		Kind:         string(model.KindNovel),
		Category:     "Thriller",
		ThumbnailURL: "https://via.placeholder.com/300x200/45B7D1/FFFFFF?text=DN",
		Media:        catalog.MediaInput{PDFURL: "https://www.w3.org/WAI/ER/tests/xhtml/testfiles/resources/pdf/dummy.pdf"},
	},
	{
		Title:        "Naruto",
		Description:  "A young ninja seeks to become the strongest ninja in his village.",
		Kind:         string(model.KindVideo),
		Category:     "Action",
		ThumbnailURL: "https://via.placeholder.com/300x200/96CEB4/FFFFFF?text=N",
		Media:        catalog.MediaInput{VideoURL: "https://sample-videos.com/zip/10/mp4/SampleVideo_1280x720_1mb.mp4"},
	},
	{
		Title:        "Demon Slayer",
		Description:  "A young demon slayer fights to save his sister and avenge his family.",
		Kind:         string(model.KindVideo),
		Category:     "Fantasy",
		ThumbnailURL: "https://via.placeholder.com/300x200/FFEAA7/FFFFFF?text=DS",
		Media:        catalog.MediaInput{VideoURL: "https://sample-videos.com/zip/10/mp4/SampleVideo_1280x720_1mb.mp4"},
	},
}

func newSeedCommand(ctx *commandContext) *cobra.Command {
	var adminEmail, adminPassword string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate an empty store with demo accounts, works, comments and favorites",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.open()
			if err != nil {
				return err
			}
			svc, err := ctx.services()
			if err != nil {
				return err
			}
			sum, err := seedStore(cmd.Context(), store, svc, adminEmail, adminPassword, sampleWorks)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "seeded 2 accounts, %d works, %d comments, %d favorites\n",
				sum.works, sum.comments, sum.favorites)
			fmt.Fprintf(out, "admin login: %s\n", sum.admin.Email)
			fmt.Fprintf(out, "user login:  %s / password123\n", sum.user.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminEmail, "admin-email", "admin@example.com", "Email of the seeded admin")
	cmd.Flags().StringVar(&adminPassword, "admin-password", "admin123", "Password of the seeded admin")
	return cmd
}

type seedSummary struct {
	admin, user                model.Account
	works, comments, favorites int
}

// seedStore fills an empty store with the demo catalog. If a step fails,
// the accounts it created are deleted, which cascades to their works,
// comments and favorites, so the next run starts from an empty store again.
func seedStore(c context.Context, store storage.Store, svc *services, adminEmail, adminPassword string, samples []catalog.WorkInput) (sum seedSummary, err error) {
	ov, err := store.Overview(c, time.Now())
	if err != nil {
		return sum, fmt.Errorf("inspect store: %w", err)
	}
	if ov.TotalUsers > 0 || ov.TotalWorks > 0 {
		return sum, fmt.Errorf("store already holds %d accounts and %d works; seed only runs on an empty store",
			ov.TotalUsers, ov.TotalWorks)
	}

	var created []int64
	defer func() {
		if err == nil || len(created) == 0 {
			return
		}
		for _, id := range created {
			if derr := store.DeleteAccount(c, id); derr != nil && !errors.Is(derr, storage.ErrNotFound) {
				err = fmt.Errorf("%w; cleanup failed (%v): delete the seeded accounts or start from an empty database before retrying", err, derr)
				return
			}
		}
		err = fmt.Errorf("%w; partially seeded data was removed", err)
	}()

	admin, err := svc.accounts.CreateAdmin(c, "admin", adminEmail, adminPassword)
	if err != nil {
		return sum, fmt.Errorf("create admin: %w", err)
	}
	created = append(created, admin.ID)
	sess, err := svc.accounts.Register(c, "user", "user@example.com", "password123")
	if err != nil {
		return sum, fmt.Errorf("create user: %w", err)
	}
	user := sess.Account
	created = append(created, user.ID)

	works := make([]*model.Work, 0, len(samples))
	for _, in := range samples {
		w, err := svc.catalog.CreateWork(c, *admin, in)
		if err != nil {
			return sum, fmt.Errorf("create %q: %w", in.Title, err)
		}
		works = append(works, w)
	}

	comments := []struct {
		by   model.Account
		work int
		text string
	}{
		{user, 0, "This anime is absolutely amazing! The story and animation are top-notch."},
		{*admin, 0, "One of the best anime series ever created. Highly recommended!"},
		{user, 1, "The world-building in One Piece is incredible. Such a long journey but worth every episode!"},
		{*admin, 2, "A psychological masterpiece. The mind games are intense!"},
	}
	favorites := []struct {
		by   model.Account
		work int
	}{{user, 0}, {user, 1}, {*admin, 2}}

	for _, cm := range comments {
		if cm.work >= len(works) {
			continue
		}
		if _, err := svc.engagement.AddComment(c, cm.by, works[cm.work].ID, cm.text); err != nil {
			return sum, fmt.Errorf("add comment: %w", err)
		}
		sum.comments++
	}
	for _, f := range favorites {
		if f.work >= len(works) {
			continue
		}
		if _, err := svc.engagement.ToggleFavorite(c, f.by, works[f.work].ID); err != nil {
			return sum, fmt.Errorf("add favorite: %w", err)
		}
		sum.favorites++
	}

	sum.admin, sum.user, sum.works = *admin, user, len(works)
	return sum, nil
}
