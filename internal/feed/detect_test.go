package feed

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestDetect_GzipMagic(t *testing.T) {
	data := gzipped(t, "a,b\n1,2\n")

	// Magic bytes win even when content-type and URL say otherwise.
	kind, r, err := Detect(bytes.NewReader(data), "text/csv", "https://x.test/feed.csv")
	require.NoError(t, err)
	assert.Equal(t, KindGzip, kind)

	// The peeked bytes must not be consumed.
	all, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, all)
}

func TestDetect_ZipMagic(t *testing.T) {
	data := []byte("PK\x03\x04rest-of-archive")
	kind, _, err := Detect(bytes.NewReader(data), "", "")
	require.NoError(t, err)
	assert.Equal(t, KindArchive, kind)
}

func TestDetect_ContentType(t *testing.T) {
	kind, _, err := Detect(strings.NewReader("a,b\n"), "application/gzip; charset=binary", "")
	require.NoError(t, err)
	// Declared content-type applies when magic bytes don't match.
	assert.Equal(t, KindGzip, kind)

	kind, _, err = Detect(strings.NewReader("a,b\n"), "application/zip", "")
	require.NoError(t, err)
	assert.Equal(t, KindArchive, kind)
}

func TestDetect_URLSuffix(t *testing.T) {
	kind, _, err := Detect(strings.NewReader("a,b\n"), "", "https://x.test/feed.csv.gz?token=abc")
	require.NoError(t, err)
	assert.Equal(t, KindGzip, kind)

	kind, _, err = Detect(strings.NewReader("a,b\n"), "", "https://x.test/feed.zip")
	require.NoError(t, err)
	assert.Equal(t, KindArchive, kind)

	kind, _, err = Detect(strings.NewReader("a,b\n"), "", "https://x.test/feed.csv")
	require.NoError(t, err)
	assert.Equal(t, KindPlain, kind)
}

func TestOpen_TransparentGzip(t *testing.T) {
	r, err := Open(bytes.NewReader(gzipped(t, "title,price\nWidget,9.99\n")), "", "")
	require.NoError(t, err)

	all, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "title,price\nWidget,9.99\n", string(all))
}

func TestOpen_RefusesArchives(t *testing.T) {
	_, err := Open(bytes.NewReader([]byte("PK\x03\x04...")), "", "https://x.test/catalog.zip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "container archive")
}

func TestOpen_PlainPassthrough(t *testing.T) {
	r, err := Open(strings.NewReader("a,b\n1,2\n"), "text/csv", "")
	require.NoError(t, err)
	all, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(all))
}
