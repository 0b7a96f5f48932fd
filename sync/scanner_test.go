package sync

import (
	"context"
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanAssets(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/root/a.ys", []byte("a"), 0644))
	require.NoError(t, afero.WriteFile(fsys, "/root/sub/deep/b", []byte("b"), 0644))
	require.NoError(t, afero.WriteFile(fsys, "/root/sub/c.ys.sync-tmp", []byte("partial"), 0644))
	require.NoError(t, fsys.MkdirAll("/root/empty", 0755))

	paths, err := ScanAssets(fsys, "/root")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.ys", "sub/deep/b"}, paths)
}

func TestScanAssets_MissingRoot(t *testing.T) {
	paths, err := ScanAssets(afero.NewMemMapFs(), "/nowhere")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestHashFiles(t *testing.T) {
	fsys := afero.NewMemMapFs()
	var paths []string
	for i := 0; i < 20; i++ {
		p := fmt.Sprintf("d%d/f%d", i%3, i)
		require.NoError(t, afero.WriteFile(fsys, "/root/"+p, []byte(p), 0644))
		paths = append(paths, p)
	}
	paths = append(paths, "missing/file", "../outside")

	rows, err := HashFiles(context.Background(), fsys, "/root", paths, 2, nil, "test")
	require.NoError(t, err)
	require.Len(t, rows, 20)
	for _, r := range rows {
		assert.Equal(t, hashBytes([]byte(r.Path)), r.Hash)
		assert.Equal(t, int64(len(r.Path)), r.Size)
	}
}

func TestHashFiles_CancelledContext(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/root/a", []byte("a"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := HashFiles(ctx, fsys, "/root", []string{"a"}, 1, nil, "test")
	assert.ErrorIs(t, err, context.Canceled)
}
