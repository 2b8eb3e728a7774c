package knowledge

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/partnerdesk/backend/internal/faults"
)

const maxDocBytes = 256 << 10

// DriveFetcher pulls every readable document out of one Drive folder.
// Google Docs are exported as plain text; regular text files are downloaded
// as-is. Everything else in the folder is skipped.
type DriveFetcher struct {
	svc      *drivev3.Service
	folderID string
	log      *slog.Logger
}

// NewDriveFetcher builds a fetcher for the folder using the given client
// options (credentials come from the caller).
func NewDriveFetcher(ctx context.Context, folderID string, log *slog.Logger, opts ...option.ClientOption) (*DriveFetcher, error) {
	opts = append(opts, option.WithScopes(drivev3.DriveReadonlyScope))
	svc, err := drivev3.NewService(ctx, opts...)
	if err != nil {
		return nil, faults.Wrap(faults.KindPermanent, err, "drive client init failed")
	}
	return &DriveFetcher{svc: svc, folderID: folderID, log: log}, nil
}

// Fetch lists the folder and downloads each supported document.
func (f *DriveFetcher) Fetch(ctx context.Context) ([]Doc, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", f.folderID)
	var docs []Doc
	pageToken := ""
	for {
		call := f.svc.Files.List().
			Context(ctx).
			Q(query).
			Fields("nextPageToken, files(id, name, mimeType)").
			PageSize(100)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			return nil, faults.ClassifyGoogle(err)
		}
		for _, file := range page.Files {
			body, err := f.download(ctx, file.Id, file.MimeType)
			if err != nil {
				if faults.IsTransient(err) {
					return nil, err
				}
				f.log.Warn("knowledge document skipped",
					slog.String("file", file.Name),
					slog.String("error", err.Error()))
				continue
			}
			docs = append(docs, Doc{ID: file.Id, Title: file.Name, Body: body})
		}
		if page.NextPageToken == "" {
			return docs, nil
		}
		pageToken = page.NextPageToken
	}
}

func (f *DriveFetcher) download(ctx context.Context, fileID, mimeType string) (string, error) {
	switch mimeType {
	case "application/vnd.google-apps.document":
		r, err := f.svc.Files.Export(fileID, "text/plain").Context(ctx).Download()
		if err != nil {
			return "", faults.ClassifyGoogle(err)
		}
		defer r.Body.Close()
		return readCapped(r.Body)
	case "text/plain", "text/markdown", "text/csv":
		r, err := f.svc.Files.Get(fileID).Context(ctx).Download()
		if err != nil {
			return "", faults.ClassifyGoogle(err)
		}
		defer r.Body.Close()
		return readCapped(r.Body)
	default:
		return "", faults.Permanent("unsupported knowledge mime type %q", mimeType)
	}
}

func readCapped(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxDocBytes))
	if err != nil {
		return "", faults.Wrap(faults.KindTransient, err, "document read interrupted")
	}
	return string(data), nil
}
