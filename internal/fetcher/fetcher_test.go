package fetcher

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcherDownload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{})
	body, err := f.Download(context.Background(), srv.URL)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestHTTPFetcherRetriesOn500(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{MaxRetries: 3, RetryBackoff: time.Millisecond})
	body, err := f.Download(context.Background(), srv.URL)
	require.NoError(t, err)
	defer body.Close()

	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPFetcherExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{MaxRetries: 2, RetryBackoff: time.Millisecond})
	_, err := f.Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPFetcherNotFoundIsFinal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{})
	_, err := f.Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "404 must not be retried")
}

func TestHTTPFetcherDownloadToFile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("file contents"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "out.bin")
	f := NewHTTPFetcher(HTTPOptions{})
	n, err := f.DownloadToFile(context.Background(), srv.URL, path)
	require.NoError(t, err)
	assert.Equal(t, int64(len("file contents")), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file contents", string(data))
}

func TestParseFTPURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		url      string
		wantHost string
		wantPath string
		wantErr  bool
	}{
		{
			name:     "default port added",
			url:      "ftp://mirror.example.com/CNPJ/Estabelecimentos0.zip",
			wantHost: "mirror.example.com:21",
			wantPath: "/CNPJ/Estabelecimentos0.zip",
		},
		{
			name:     "explicit port kept",
			url:      "ftp://mirror.example.com:2121/data.zip",
			wantHost: "mirror.example.com:2121",
			wantPath: "/data.zip",
		},
		{
			name:    "http scheme rejected",
			url:     "http://mirror.example.com/data.zip",
			wantErr: true,
		},
		{
			name:    "missing path",
			url:     "ftp://mirror.example.com",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			host, path, err := parseFTPURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}

func writeZIP(t *testing.T, entries map[string]string) string {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	path := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestExtractZIP(t *testing.T) {
	t.Parallel()

	zipPath := writeZIP(t, map[string]string{
		"a.csv":        "1;2;3",
		"nested/b.csv": "4;5;6",
	})

	destDir := t.TempDir()
	paths, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	data, err := os.ReadFile(filepath.Join(destDir, "a.csv"))
	require.NoError(t, err)
	assert.Equal(t, "1;2;3", string(data))

	data, err = os.ReadFile(filepath.Join(destDir, "nested", "b.csv"))
	require.NoError(t, err)
	assert.Equal(t, "4;5;6", string(data))
}

func TestExtractZIPSingle(t *testing.T) {
	t.Parallel()

	zipPath := writeZIP(t, map[string]string{"K3241.K03200Y0.D50809.ESTABELE": "row"})

	path, err := ExtractZIPSingle(zipPath, t.TempDir())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "row", string(data))
}

func TestExtractZIPSingleRejectsMultiFile(t *testing.T) {
	t.Parallel()

	zipPath := writeZIP(t, map[string]string{"a.csv": "1", "b.csv": "2"})

	_, err := ExtractZIPSingle(zipPath, t.TempDir())
	assert.Error(t, err)
}

func TestExtractZIPRejectsSlipPath(t *testing.T) {
	t.Parallel()

	zipPath := writeZIP(t, map[string]string{"../escape.csv": "evil"})

	_, err := ExtractZIP(zipPath, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal path")
}

func drainCSV(t *testing.T, rowCh <-chan []string, errCh <-chan error) [][]string {
	t.Helper()

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	require.NoError(t, <-errCh)
	return rows
}

func TestStreamCSVSemicolonRows(t *testing.T) {
	t.Parallel()

	input := "123;ACME;02\n456;BETA;08\n"
	rowCh, errCh := StreamCSV(context.Background(), bytes.NewReader([]byte(input)), CSVOptions{
		Delimiter: ';',
	})

	rows := drainCSV(t, rowCh, errCh)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"123", "ACME", "02"}, rows[0])
	assert.Equal(t, []string{"456", "BETA", "08"}, rows[1])
}

func TestStreamCSVDropsHeader(t *testing.T) {
	t.Parallel()

	input := "id;name\n1;ACME\n"
	rowCh, errCh := StreamCSV(context.Background(), bytes.NewReader([]byte(input)), CSVOptions{
		Delimiter: ';',
		HasHeader: true,
	})

	rows := drainCSV(t, rowCh, errCh)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"1", "ACME"}, rows[0])
}

func TestStreamCSVDecodesLatin1(t *testing.T) {
	t.Parallel()

	// "SÃO PAULO;PADARIA SÃO JOÃO" encoded in ISO-8859-1.
	input := []byte{
		'S', 0xC3, 'O', ' ', 'P', 'A', 'U', 'L', 'O', ';',
		'P', 'A', 'D', 'A', 'R', 'I', 'A', ' ', 'S', 0xC3, 'O', ' ', 'J', 'O', 0xC3, 'O', '\n',
	}
	rowCh, errCh := StreamCSV(context.Background(), bytes.NewReader(input), CSVOptions{
		Delimiter: ';',
		Latin1:    true,
	})

	rows := drainCSV(t, rowCh, errCh)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"SÃO PAULO", "PADARIA SÃO JOÃO"}, rows[0])
}

func TestStreamCSVContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rowCh, errCh := StreamCSV(ctx, bytes.NewReader([]byte("1;2\n3;4\n")), CSVOptions{Delimiter: ';'})

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-rowCh:
			if !ok {
				require.Error(t, <-errCh)
				return
			}
		case <-deadline:
			t.Fatal("stream did not terminate after cancellation")
		}
	}
}
