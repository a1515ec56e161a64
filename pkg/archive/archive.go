// Package archive ships audit exports to object storage for long-term
// compliance retention. The export JSON is the artifact; the object key
// embeds the chain anchor so a reader can locate the export covering a
// given entry without downloading everything.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/wardenlabs/warden/pkg/audit"
)

// Archiver persists one serialized audit export and returns the object key.
type Archiver interface {
	Archive(ctx context.Context, exportJSON []byte, anchor string) (string, error)
}

// Snapshot exports the trail and ships it through the archiver. The
// returned key identifies the stored artifact.
func Snapshot(ctx context.Context, trail *audit.Trail, a Archiver) (string, error) {
	raw, err := trail.ExportJSON()
	if err != nil {
		return "", fmt.Errorf("export trail: %w", err)
	}
	key, err := a.Archive(ctx, []byte(raw), trail.LatestAnchor())
	if err != nil {
		return "", fmt.Errorf("archive export: %w", err)
	}
	return key, nil
}

// objectKey builds the storage key for one export. Anchors are hex digests
// so the key is filesystem- and URL-safe.
func objectKey(prefix, anchor string, now time.Time) string {
	return fmt.Sprintf("%s%s/%s.json", prefix, now.UTC().Format("2006/01/02"), anchor)
}
