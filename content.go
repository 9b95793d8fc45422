package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/tonies-go/internal/catalog"
	"github.com/tonimelisma/tonies-go/internal/media"
)

func newContentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Manage audio content records",
	}

	add := &cobra.Command{
		Use:   "add <file-or-url>",
		Short: "Store an audio file, or register a remote URL, as content",
		Long: `Copy a local audio file into the default storage provider and record it
as content. An http(s) URL is recorded as is and fetched at sync time.`,
		Args: cobra.ExactArgs(1),
		RunE: runContentAdd,
	}
	add.Flags().String("title", "", "chapter title (default: file name without extension)")

	cmd.AddCommand(add)
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List content records, newest first",
		Args:  cobra.NoArgs,
		RunE:  runContentList,
	})

	return cmd
}

func runContentAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	title, err := cmd.Flags().GetString("title")
	if err != nil {
		return err
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var c *catalog.Content

	if kind, _, perr := media.ParseLocator(args[0]); perr == nil && kind == media.KindHTTP {
		c, err = registerURL(ctx, s, args[0], title)
	} else {
		c, err = ingestFile(ctx, s, args[0], title)
	}

	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, c)
	}

	statusf("Added %q (%s, %s)\n", c.Title, c.ID, formatSize(c.Size))

	return nil
}

// ingestFile copies a local file into the default provider and records it.
func ingestFile(ctx context.Context, s *Session, path, title string) (*catalog.Content, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if title == "" {
		title = titleFromPath(path)
	}

	key := uuid.NewString() + strings.ToLower(filepath.Ext(path))

	locator, md, err := s.Media.Store(ctx, key, f, media.ContentTypeFor(path))
	if err != nil {
		return nil, err
	}

	c, err := s.Catalog.AddContent(ctx, title, locator, md.ContentType, md.Size)
	if err != nil {
		if rmErr := s.Media.Remove(context.WithoutCancel(ctx), locator); rmErr != nil {
			s.Logger.Warn("removing orphaned media",
				slog.String("locator", locator),
				slog.String("error", rmErr.Error()),
			)
		}

		return nil, err
	}

	s.Logger.Info("content added",
		slog.String("content_id", c.ID),
		slog.String("locator", locator),
		slog.Int64("size", md.Size),
	)

	return c, nil
}

// registerURL records a remote URL, checking that it answers first.
func registerURL(ctx context.Context, s *Session, rawURL, title string) (*catalog.Content, error) {
	p, err := s.Media.Provider(media.KindHTTP)
	if err != nil {
		return nil, err
	}

	md, err := p.Metadata(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if title == "" {
		title = titleFromPath(rawURL)
	}

	// Servers without Content-Length report -1.
	return s.Catalog.AddContent(ctx, title, rawURL, md.ContentType, max(md.Size, 0))
}

// titleFromPath derives a chapter title from a file name.
func titleFromPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 && strings.Contains(p, "://") {
		p = p[:i]
	}

	base := filepath.Base(p)

	return strings.TrimSuffix(base, filepath.Ext(base))
}

func runContentList(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	items, err := s.Catalog.ListContent(cmd.Context())
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, items)
	}

	rows := make([][]string, 0, len(items))
	for i := range items {
		c := &items[i]
		rows = append(rows, []string{c.ID, c.Title, formatSize(c.Size), c.Locator, formatTime(c.CreatedAt)})
	}

	printTable(os.Stdout, []string{"ID", "TITLE", "SIZE", "LOCATION", "ADDED"}, rows)

	return nil
}
