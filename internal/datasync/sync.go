package datasync

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadfoundry/leadgen-cli/internal/db"
	"github.com/leadfoundry/leadgen-cli/internal/fetcher"
)

// datasetName identifies the establishment drop in sync_log.
const datasetName = "estabelecimentos"

// Source is the data source variant a run commits to up front. The choice
// is made once at run start and recorded in sync_log, never switched
// mid-run.
type Source string

const (
	// SourceBulk imports the monthly open-data CSV drops.
	SourceBulk Source = "bulk"
	// SourceLive samples companies through the live registry API instead.
	SourceLive Source = "live"
)

// ParseSource validates a source flag value.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceBulk, SourceLive:
		return Source(s), nil
	default:
		return "", eris.Errorf("datasync: unknown source %q (valid: bulk, live)", s)
	}
}

// Sampler fetches a small live sample for a segment when the bulk drops
// are not wanted. Returns how many companies it stored.
type Sampler interface {
	Sample(ctx context.Context, segment, state string, limit int) (int64, error)
}

// Options configures one sync run.
type Options struct {
	Source   Source
	Segments []string
	State    string // two-letter UF filter, empty for all

	// Archives overrides discovery with explicit archive URLs. Required
	// when the base URL is an FTP mirror, which cannot be listed.
	Archives []string

	// MaxArchives caps how many establishment archives to process when
	// discovering from the index page. Each archive runs to gigabytes.
	MaxArchives int

	// SampleLimit caps companies per segment in live mode.
	SampleLimit int
}

// Syncer downloads, filters, and imports the establishment drops.
type Syncer struct {
	pool    db.Pool
	syncLog *SyncLog
	http    fetcher.Fetcher
	ftp     fetcher.Fetcher
	client  *http.Client
	baseURL string
	dataDir string
}

// New creates a Syncer. baseURL is the open-data directory (HTTP) or an
// FTP mirror; dataDir holds downloaded and extracted files across runs.
func New(pool db.Pool, baseURL, dataDir string) *Syncer {
	return &Syncer{
		pool:    pool,
		syncLog: NewSyncLog(pool),
		http: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			RateLimiters: fetcher.DefaultRateLimiters(),
		}),
		ftp:     fetcher.NewFTPFetcher(fetcher.FTPOptions{}),
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		dataDir: dataDir,
	}
}

// Run executes one sync under a sync_log entry. sampler may be nil unless
// the source is live.
func (s *Syncer) Run(ctx context.Context, opts Options, sampler Sampler) error {
	if len(opts.Segments) == 0 {
		opts.Segments = SegmentNames()
	}
	segments := make([]Segment, 0, len(opts.Segments))
	for _, name := range opts.Segments {
		seg, err := SegmentFor(name)
		if err != nil {
			return err
		}
		segments = append(segments, seg)
	}

	runID, err := s.syncLog.Start(ctx, datasetName, string(opts.Source))
	if err != nil {
		return err
	}

	var rows int64
	switch opts.Source {
	case SourceBulk:
		rows, err = s.runBulk(ctx, opts, segments)
	case SourceLive:
		rows, err = s.runLive(ctx, opts, sampler)
	default:
		err = eris.Errorf("datasync: unknown source %q", opts.Source)
	}

	if err != nil {
		if logErr := s.syncLog.Fail(ctx, runID, err.Error()); logErr != nil {
			zap.L().Error("sync_log fail record", zap.Error(logErr))
		}
		return eris.Wrap(err, "datasync: run")
	}
	if err := s.syncLog.Complete(ctx, runID, rows); err != nil {
		zap.L().Error("sync_log complete record", zap.Error(err))
	}

	zap.L().Info("dataset sync complete",
		zap.String("source", string(opts.Source)),
		zap.Int64("rows", rows),
	)
	return nil
}

func (s *Syncer) runBulk(ctx context.Context, opts Options, segments []Segment) (int64, error) {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return 0, eris.Wrap(err, "datasync: create data dir")
	}

	archives := opts.Archives
	if len(archives) == 0 {
		var err error
		archives, err = s.discoverArchives(ctx, opts.MaxArchives)
		if err != nil {
			return 0, err
		}
	}
	if len(archives) == 0 {
		return 0, eris.New("datasync: no establishment archives found")
	}

	var total int64
	for _, archiveURL := range archives {
		csvPath, err := s.ensureExtracted(ctx, archiveURL)
		if err != nil {
			return total, err
		}
		for _, seg := range segments {
			n, err := importFile(ctx, s.pool, csvPath, rowFilter{segment: seg, state: opts.State})
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	return total, nil
}

func (s *Syncer) runLive(ctx context.Context, opts Options, sampler Sampler) (int64, error) {
	if sampler == nil {
		return 0, eris.New("datasync: live source requires a sampler")
	}

	limit := opts.SampleLimit
	if limit <= 0 {
		limit = 5
	}

	var total int64
	for _, name := range opts.Segments {
		n, err := sampler.Sample(ctx, name, opts.State, limit)
		if err != nil {
			return total, eris.Wrapf(err, "datasync: live sample %s", name)
		}
		total += n
	}
	return total, nil
}

var archiveHrefRe = regexp.MustCompile(`href="([^"]+\.zip)"`)

// discoverArchives lists the open-data index page and picks the
// establishment archives. The drop is split into numbered parts.
func (s *Syncer) discoverArchives(ctx context.Context, maxArchives int) ([]string, error) {
	if maxArchives <= 0 {
		maxArchives = 1
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "datasync: index request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "datasync: list index")
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("datasync: index returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, eris.Wrap(err, "datasync: read index")
	}

	base, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, eris.Wrap(err, "datasync: parse base url")
	}

	var archives []string
	for _, m := range archiveHrefRe.FindAllStringSubmatch(string(body), -1) {
		name := m[1]
		if !strings.Contains(name, "Estabelecimentos") {
			continue
		}
		ref, err := url.Parse(name)
		if err != nil {
			continue
		}
		archives = append(archives, base.ResolveReference(ref).String())
		if len(archives) >= maxArchives {
			break
		}
	}
	return archives, nil
}

// ensureExtracted downloads the archive unless already cached, then
// extracts its single CSV. Returns the extracted path.
func (s *Syncer) ensureExtracted(ctx context.Context, archiveURL string) (string, error) {
	zipPath := filepath.Join(s.dataDir, filepath.Base(archiveURL))

	if _, err := os.Stat(zipPath); err != nil {
		zap.L().Info("downloading archive", zap.String("url", archiveURL))
		if _, err := s.fetcherFor(archiveURL).DownloadToFile(ctx, archiveURL, zipPath); err != nil {
			return "", eris.Wrapf(err, "datasync: download %s", archiveURL)
		}
	} else {
		zap.L().Info("archive already downloaded", zap.String("path", zipPath))
	}

	csvPath, err := fetcher.ExtractZIPSingle(zipPath, s.dataDir)
	if err != nil {
		return "", eris.Wrapf(err, "datasync: extract %s", zipPath)
	}
	return csvPath, nil
}

func (s *Syncer) fetcherFor(rawURL string) fetcher.Fetcher {
	if strings.HasPrefix(rawURL, "ftp://") {
		return s.ftp
	}
	return s.http
}
