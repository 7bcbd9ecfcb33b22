package s3client

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPutGetDelete(t *testing.T) {
	c := TestClient(t, "artifacts")
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "runs/r1/report.md", []byte("# ok"), ""))
	data, err := c.Get(ctx, "runs/r1/report.md")
	require.NoError(t, err)
	require.Equal(t, "# ok", string(data))

	require.NoError(t, c.Delete(ctx, "runs/r1/report.md"))
	_, err = c.Get(ctx, "runs/r1/report.md")
	require.ErrorIs(t, err, ErrObjectNotFound)
	require.NoError(t, c.Delete(ctx, "runs/r1/report.md"))
}

func TestUploadDir(t *testing.T) {
	c := TestClient(t, "artifacts")
	ctx := context.Background()

	dir := t.TempDir()
	files := map[string]string{
		"report.json":                 `{"ok":true}`,
		"screenshots/001-login.png":   "png",
		"screenshots/002-failed.html": "<html></html>",
	}
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}

	keys, err := c.UploadDir(ctx, "/runs/abc/", dir)
	require.NoError(t, err)
	sort.Strings(keys)
	require.Equal(t, []string{
		"runs/abc/report.json",
		"runs/abc/screenshots/001-login.png",
		"runs/abc/screenshots/002-failed.html",
	}, keys)

	listed, err := c.List(ctx, "runs/abc/screenshots/")
	require.NoError(t, err)
	require.Len(t, listed, 2)

	got, err := c.Get(ctx, "runs/abc/screenshots/002-failed.html")
	require.NoError(t, err)
	require.Equal(t, "<html></html>", string(got))
	require.Equal(t, c.URL("runs/abc/report.json"), c.URL("/runs/abc/report.json"))
}

func TestUploadDir_MissingDir(t *testing.T) {
	c := TestClient(t, "artifacts")
	_, err := c.UploadDir(context.Background(), "x", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestContentType(t *testing.T) {
	require.Equal(t, "application/zip", ContentType("trace.zip"))
	require.Equal(t, "video/webm", ContentType("video/a.WEBM"))
	require.Equal(t, "text/markdown; charset=utf-8", ContentType("report.md"))
	require.Equal(t, "application/octet-stream", ContentType("noext"))
	require.Contains(t, ContentType("001.png"), "image/png")
}

// Anything put can be read back byte for byte.
func testRoundTrip(t *rapid.T, c *Client) {
	key := rapid.StringMatching(`[a-z0-9]{1,8}(/[a-z0-9]{1,8}){0,3}\.(png|json|html)`).Draw(t, "key")
	body := rapid.SliceOfN(rapid.Byte(), 0, 2048).Draw(t, "body")
	ctx := context.Background()
	if err := c.Put(ctx, key, body, ""); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(body) {
		t.Fatalf("got %d bytes, want %d", len(got), len(body))
	}
}

func TestRoundTrip(t *testing.T) {
	c := TestClient(t, "artifacts")
	rapid.Check(t, func(rt *rapid.T) { testRoundTrip(rt, c) })
}
