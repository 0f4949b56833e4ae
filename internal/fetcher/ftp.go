package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Timeout time.Duration
}

// FTPFetcher retrieves dataset archives from an FTP mirror with anonymous
// login. Each call opens its own control connection; the registry mirrors
// drop idle sessions quickly.
type FTPFetcher struct {
	timeout time.Duration
}

// NewFTPFetcher creates an FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	t := opts.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	return &FTPFetcher{timeout: t}
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "ftp: parse url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("ftp: expected ftp scheme, got %q", u.Scheme)
	}
	if u.Path == "" {
		return "", "", eris.New("ftp: url has no path")
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}
	return host, u.Path, nil
}

// dial opens a control connection and logs in anonymously.
func (f *FTPFetcher) dial(ctx context.Context, host string) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrapf(err, "ftp: dial %s", host)
	}
	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrapf(err, "ftp: login %s", host)
	}
	return conn, nil
}

// retrBody is an open RETR transfer. Closing it finishes the transfer and
// quits the control connection it rides on.
type retrBody struct {
	*ftp.Response
	conn *ftp.ServerConn
}

func (b *retrBody) Close() error {
	respErr := b.Response.Close()
	quitErr := b.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "ftp: close transfer")
	}
	return eris.Wrap(quitErr, "ftp: quit")
}

// Download starts a file transfer and returns its body. The caller must
// close it to release the connection.
func (f *FTPFetcher) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	host, path, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("ftp transfer", zap.String("host", host), zap.String("path", path))

	conn, err := f.dial(ctx, host)
	if err != nil {
		return nil, err
	}
	resp, err := conn.Retr(path)
	if err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrapf(err, "ftp: retr %s", path)
	}
	return &retrBody{Response: resp, conn: conn}, nil
}

// DownloadToFile transfers the FTP URL into a local file and reports bytes
// written.
func (f *FTPFetcher) DownloadToFile(ctx context.Context, ftpURL string, dest string) (int64, error) {
	body, err := f.Download(ctx, ftpURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return 0, eris.Wrapf(err, "ftp: create %s", dest)
	}
	defer out.Close() //nolint:errcheck

	n, err := io.Copy(out, body)
	if err != nil {
		return n, eris.Wrapf(err, "ftp: write %s", dest)
	}
	return n, nil
}
