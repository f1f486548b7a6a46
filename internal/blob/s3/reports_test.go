package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
)

type memBlobs struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *memBlobs) Put(_ context.Context, p string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[p] = b
	m.types[p] = contentType
	return nil
}

func (m *memBlobs) Get(_ context.Context, p string) (io.ReadCloser, error) {
	b, ok := m.objects[p]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func TestArchiveSettlement(t *testing.T) {
	blobs := newMemBlobs()
	r := NewReports(blobs, blobs, "/settlements/")
	at := time.Date(2026, 4, 2, 18, 30, 5, 250_000_000, time.FixedZone("X", 3600))

	p, err := r.ArchiveSettlement(context.Background(), "l1", map[string]any{"anyFailed": false}, at)
	require.NoError(t, err)
	assert.Equal(t, "settlements/l1/20260402T173005.250Z.json", p)
	assert.Equal(t, "application/json", blobs.types[p])

	var got map[string]any
	require.NoError(t, json.Unmarshal(blobs.objects[p], &got))
	assert.Equal(t, false, got["anyFailed"])
}

func TestListAndOpenSettlements(t *testing.T) {
	blobs := newMemBlobs()
	r := NewReports(blobs, blobs, "")
	base := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := r.ArchiveSettlement(context.Background(), "l1", map[string]int{"run": i}, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}
	_, err := r.ArchiveSettlement(context.Background(), "l2", map[string]int{"run": 9}, base)
	require.NoError(t, err)

	infos, err := r.ListSettlements(context.Background(), "l1")
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "settlements/l1/20260402T020000.000Z.json", infos[0].Path)

	data, err := r.OpenSettlement(context.Background(), "l1", infos[0].Path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"run":2}`, string(data))

	_, err = r.OpenSettlement(context.Background(), "l1", "settlements/l1/../l2/20260402T000000.000Z.json")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReportsWithoutReader(t *testing.T) {
	r := NewReports(newMemBlobs(), nil, "x")
	_, err := r.ListSettlements(context.Background(), "l1")
	assert.Error(t, err)
}
