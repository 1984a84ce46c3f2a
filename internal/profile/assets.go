package profile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/baselight/baselight/internal/capability"
	"github.com/baselight/baselight/internal/logging"
	"github.com/baselight/baselight/internal/metrics"
)

// Asset is one baseline file read from a profile's asset sub-store.
// Uniquely identified by Name within the sub-store; the filesystem's
// name uniqueness enforces this.
type Asset struct {
	Name     string
	Size     int64
	MIMEType string
	Content  []byte
}

// FileUpload is one candidate file for SaveAssets.
type FileUpload struct {
	Name    string
	Content []byte
}

// ListAssets enumerates the profile's asset sub-store and reads every
// file-kind entry. Directory-kind entries are ignored. Order is whatever
// the backend yields and is not stable across calls.
//
// Degrades to an empty slice on any failure: a sub-store that does not
// exist yet is the expected state for a brand-new profile, and read
// failures are deliberately presented the same way. The distinction is
// kept in logs and metrics even though the result type hides it.
func (s *Store) ListAssets(ctx context.Context, p *Profile) []Asset {
	start := time.Now()

	sub, err := p.root.GetOrCreateChild(ctx, BaselineDirName)
	if err != nil {
		logging.Error("asset sub-store unavailable, treating as empty",
			zap.String("profile", p.name),
			zap.Error(err))
		metrics.RecordListingDegraded("missing")
		return nil
	}

	entries, err := sub.ListEntries(ctx)
	if err != nil {
		logging.Error("asset listing failed, treating as empty",
			zap.String("profile", p.name),
			zap.Error(err))
		metrics.RecordListingDegraded("read_error")
		return nil
	}

	assets := make([]Asset, 0, len(entries))
	for _, e := range entries {
		if e.Kind() != capability.EntryFile {
			continue
		}
		f, err := e.AsFile()
		if err != nil {
			logging.Error("asset entry unreadable, treating listing as empty",
				zap.String("profile", p.name),
				zap.String("asset", e.Name()),
				zap.Error(err))
			metrics.RecordListingDegraded("read_error")
			return nil
		}
		content, err := f.Read(ctx)
		if err != nil {
			logging.Error("asset read failed, treating listing as empty",
				zap.String("profile", p.name),
				zap.String("asset", e.Name()),
				zap.Error(err))
			metrics.RecordListingDegraded("read_error")
			return nil
		}
		metrics.RecordAssetRead(content.Size)
		assets = append(assets, Asset{
			Name:     content.Name,
			Size:     content.Size,
			MIMEType: content.MIMEType,
			Content:  content.Bytes,
		})
	}

	metrics.RecordListingRefresh(time.Since(start))
	return assets
}

// SaveAssets writes the candidate files into the profile's asset sub-store,
// truncating the batch to at most limit entries (limit <= 0 means no cap).
// Writes are sequential: each file's sink is finalized before the next file
// starts, so a concurrent listing never sees a partial write. A name match
// replaces the existing content — overwrite, not append or versioning.
//
// The batch is best-effort, not atomic: the first failing write aborts the
// remaining files, and earlier writes stay persisted.
func (s *Store) SaveAssets(ctx context.Context, p *Profile, files []FileUpload, limit int) error {
	if limit > 0 && len(files) > limit {
		logging.Info("truncating asset batch",
			zap.String("profile", p.name),
			zap.Int("offered", len(files)),
			zap.Int("limit", limit))
		files = files[:limit]
	}

	sub, err := p.root.GetOrCreateChild(ctx, BaselineDirName)
	if err != nil {
		return fmt.Errorf("resolve asset sub-store: %w", err)
	}

	for _, upload := range files {
		if err := writeAsset(ctx, sub, upload); err != nil {
			metrics.RecordAssetWrite(0, false)
			return fmt.Errorf("write asset %q: %w", upload.Name, err)
		}
		metrics.RecordAssetWrite(int64(len(upload.Content)), true)
	}
	return nil
}

func writeAsset(ctx context.Context, sub capability.Directory, upload FileUpload) error {
	f, err := sub.GetOrCreateFile(ctx, upload.Name)
	if err != nil {
		return err
	}
	w, err := f.OpenWriter(ctx)
	if err != nil {
		return err
	}
	if _, err := w.Write(upload.Content); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
