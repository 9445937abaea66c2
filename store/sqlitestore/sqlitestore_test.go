package sqlitestore

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/featcache/feature"
	"github.com/IvanBrykalov/featcache/store/memstore"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "features.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

// Rows imported from a memstore read back identically, in request order.
func TestImport_MatchesMemstore(t *testing.T) {
	ctx := context.Background()

	const vnum = 1200
	dims := map[string]int{"features": 16, "norm": 1}
	src := memstore.Synthetic(vnum, dims, 11, memstore.Options{})

	s, _ := openTemp(t)
	require.NoError(t, s.Import(ctx, src, vnum, src.Fields(), 256))
	require.Equal(t, []string{"features", "norm"}, s.Fields())

	r := rand.New(rand.NewSource(5))
	req := make([]feature.NodeID, 700) // more than one IN chunk
	for i := range req {
		req[i] = feature.NodeID(r.Intn(vnum))
	}
	req = append(req, req[0], req[1])

	for _, field := range src.Fields() {
		want, err := src.GetRows(ctx, req, field)
		require.NoError(t, err)
		got, err := s.GetRows(ctx, req, field)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	row, err := s.GetRow(ctx, 7, "features")
	require.NoError(t, err)
	want, err := src.GetRow(ctx, 7, "features")
	require.NoError(t, err)
	require.Equal(t, want, row)
}

func TestGetRows_Errors(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	require.NoError(t, s.PutRows(ctx, "x", []feature.NodeID{0, 1}, []feature.Row{{1, 2}, {3, 4}}))

	_, err := s.GetRows(ctx, []feature.NodeID{0}, "y")
	require.ErrorIs(t, err, feature.ErrNoField)

	_, err = s.GetRows(ctx, []feature.NodeID{0, 5}, "x")
	require.ErrorIs(t, err, feature.ErrNoRow)

	rows, err := s.GetRows(ctx, nil, "x")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestPutRows_Validation(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	require.Error(t, s.PutRows(ctx, "x", []feature.NodeID{0}, nil))
	require.Error(t, s.PutRows(ctx, "x", []feature.NodeID{0, 1}, []feature.Row{{1}, {1, 2}}))

	require.NoError(t, s.PutRows(ctx, "x", []feature.NodeID{0}, []feature.Row{{1, 2}}))
	require.Error(t, s.PutRows(ctx, "x", []feature.NodeID{1}, []feature.Row{{1, 2, 3}}))

	// overwrite keeps a single row per node
	require.NoError(t, s.PutRows(ctx, "x", []feature.NodeID{0}, []feature.Row{{9, 9}}))
	row, err := s.GetRow(ctx, 0, "x")
	require.NoError(t, err)
	require.Equal(t, feature.Row{9, 9}, row)
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	s, path := openTemp(t)

	require.NoError(t, s.PutRows(ctx, "norm", []feature.NodeID{3}, []feature.Row{{0.5}}))
	require.NoError(t, s.Close())

	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer s2.Close()

	require.Equal(t, []string{"norm"}, s2.Fields())
	row, err := s2.GetRow(ctx, 3, "norm")
	require.NoError(t, err)
	require.Equal(t, feature.Row{0.5}, row)
}

func TestRowCodec(t *testing.T) {
	in := feature.Row{0, -1.5, 3.25, float32(1e-7)}
	out, err := decodeRow(encodeRow(in))
	require.NoError(t, err)
	require.Equal(t, in, out)

	_, err = decodeRow([]byte{1, 2, 3})
	require.Error(t, err)
}
