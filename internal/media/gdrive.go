package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const driveFileFields = "id, name, size, mimeType, modifiedTime"

// GDriveOptions configures a Google Drive folder.
type GDriveOptions struct {
	FolderID        string
	CredentialsFile string // service account or authorized-user JSON
	Endpoint        string // overrides the API endpoint
}

// GDrive keeps objects as files inside one Drive folder, addressed by name.
type GDrive struct {
	svc    *drive.Service
	folder string
}

// NewGDrive creates a Drive provider. A non-nil httpClient is used as is
// and must already carry authorization.
func NewGDrive(ctx context.Context, opts GDriveOptions, httpClient *http.Client) (*GDrive, error) {
	if opts.FolderID == "" {
		return nil, fmt.Errorf("media: gdrive folder id is required")
	}

	var copts []option.ClientOption

	if opts.Endpoint != "" {
		copts = append(copts, option.WithEndpoint(opts.Endpoint))
	}

	switch {
	case httpClient != nil:
		copts = append(copts, option.WithHTTPClient(httpClient))
	case opts.CredentialsFile != "":
		copts = append(copts, option.WithCredentialsFile(opts.CredentialsFile), option.WithScopes(drive.DriveFileScope))
	}

	svc, err := drive.NewService(ctx, copts...)
	if err != nil {
		return nil, fmt.Errorf("media: creating drive client: %w", err)
	}

	return &GDrive{svc: svc, folder: opts.FolderID}, nil
}

func (g *GDrive) Kind() Kind { return KindGDrive }

func (g *GDrive) find(ctx context.Context, name string) (*drive.File, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
		escapeDriveQuery(name), escapeDriveQuery(g.folder))

	list, err := g.svc.Files.List().Q(q).PageSize(1).
		Fields(googleapi.Field("files(" + driveFileFields + ")")).Context(ctx).Do()
	if err != nil {
		return nil, g.classify("list", name, err)
	}

	if len(list.Files) == 0 {
		return nil, notFound(KindGDrive, name)
	}

	return list.Files[0], nil
}

func (g *GDrive) Upload(ctx context.Context, key string, r io.Reader, contentType string) (Metadata, error) {
	if key == "" {
		return Metadata{}, fmt.Errorf("media: gdrive key is required")
	}

	var mediaOpts []googleapi.MediaOption
	if contentType != "" {
		mediaOpts = append(mediaOpts, googleapi.ContentType(contentType))
	}

	existing, err := g.find(ctx, key)
	if err != nil && !isNotFound(err) {
		return Metadata{}, err
	}

	var f *drive.File

	if existing != nil {
		f, err = g.svc.Files.Update(existing.Id, &drive.File{MimeType: contentType}).
			Media(r, mediaOpts...).Fields(driveFileFields).Context(ctx).Do()
	} else {
		f, err = g.svc.Files.Create(&drive.File{Name: key, Parents: []string{g.folder}, MimeType: contentType}).
			Media(r, mediaOpts...).Fields(driveFileFields).Context(ctx).Do()
	}

	if err != nil {
		return Metadata{}, g.classify("upload", key, err)
	}

	return driveMetadata(key, f), nil
}

func (g *GDrive) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := g.find(ctx, key)
	if err != nil {
		return nil, err
	}

	resp, err := g.svc.Files.Get(f.Id).Context(ctx).Download()
	if err != nil {
		return nil, g.classify("download", key, err)
	}

	return resp.Body, nil
}

func (g *GDrive) Delete(ctx context.Context, key string) error {
	f, err := g.find(ctx, key)
	if isNotFound(err) {
		return nil
	}

	if err != nil {
		return err
	}

	if err := g.svc.Files.Delete(f.Id).Context(ctx).Do(); err != nil {
		if err := g.classify("delete", key, err); !isNotFound(err) {
			return err
		}
	}

	return nil
}

func (g *GDrive) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.find(ctx, key)
	if err == nil {
		return true, nil
	}

	if isNotFound(err) {
		return false, nil
	}

	return false, err
}

func (g *GDrive) Metadata(ctx context.Context, key string) (Metadata, error) {
	f, err := g.find(ctx, key)
	if err != nil {
		return Metadata{}, err
	}

	return driveMetadata(key, f), nil
}

func (g *GDrive) classify(op, key string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return notFound(KindGDrive, key)
	}

	return fmt.Errorf("media: gdrive %s %q: %w", op, key, err)
}

func driveMetadata(key string, f *drive.File) Metadata {
	md := Metadata{Key: key, Size: f.Size, ContentType: f.MimeType}

	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		md.ModTime = t.UTC()
	}

	return md
}

func escapeDriveQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
