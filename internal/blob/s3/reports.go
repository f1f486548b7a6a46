package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

// Reports archives finalize reports as JSON objects at
// <prefix>/<leagueID>/<timestamp>.json.
type Reports struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
}

// NewReports creates a Reports archive. reader may be nil when only
// writes are needed.
func NewReports(writer domain.BlobWriter, reader domain.BlobReader, prefix string) *Reports {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "settlements"
	}
	return &Reports{writer: writer, reader: reader, prefix: prefix}
}

// ArchiveSettlement uploads report and returns its object path.
func (r *Reports) ArchiveSettlement(ctx context.Context, leagueID string, report any, at time.Time) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: encode settlement report %s: %w", leagueID, err)
	}
	p := r.reportPath(leagueID, at)
	if err := r.writer.Put(ctx, p, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive settlement report %s: %w", leagueID, err)
	}
	return p, nil
}

// ListSettlements returns a league's archived reports, newest first.
func (r *Reports) ListSettlements(ctx context.Context, leagueID string) ([]domain.BlobInfo, error) {
	if r.reader == nil {
		return nil, fmt.Errorf("s3blob: list settlement reports: no reader configured")
	}
	infos, err := r.reader.List(ctx, r.leaguePrefix(leagueID))
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path > infos[j].Path })
	return infos, nil
}

// OpenSettlement returns the raw JSON of an archived report. p must lie
// under the league's prefix.
func (r *Reports) OpenSettlement(ctx context.Context, leagueID, p string) ([]byte, error) {
	if r.reader == nil {
		return nil, fmt.Errorf("s3blob: open settlement report: no reader configured")
	}
	clean := path.Clean(p)
	if !strings.HasPrefix(clean, r.leaguePrefix(leagueID)) {
		return nil, fmt.Errorf("s3blob: report %s: %w", p, domain.ErrNotFound)
	}
	body, err := r.reader.Get(ctx, clean)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read report %s: %w", p, err)
	}
	return data, nil
}

func (r *Reports) leaguePrefix(leagueID string) string {
	return r.prefix + "/" + leagueID + "/"
}

// reportPath uses a sortable UTC timestamp so lexical order is time order.
func (r *Reports) reportPath(leagueID string, at time.Time) string {
	return r.leaguePrefix(leagueID) + at.UTC().Format("20060102T150405.000Z") + ".json"
}
