package attribution

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

const (
	maxMindDownloadURL = "https://download.maxmind.com/app/geoip_download"
	asnEditionID       = "GeoLite2-ASN"
	userAgent          = "privacyspace-geolite-updater/1.0"
)

// ErrNoLicenseKey means no MaxMind license key is configured.
var ErrNoLicenseKey = errors.New("attribution: geolite license key is not configured")

// Updater downloads the ASN edition and reloads the database afterwards.
type Updater struct {
	db         *ASNDatabase
	licenseKey string
	baseURL    string
	client     *http.Client
	group      singleflight.Group
}

func NewUpdater(db *ASNDatabase, licenseKey string) *Updater {
	return &Updater{
		db:         db,
		licenseKey: strings.TrimSpace(licenseKey),
		baseURL:    maxMindDownloadURL,
		client:     &http.Client{Timeout: 2 * time.Minute},
	}
}

// Update downloads and installs the ASN database. Concurrent calls share one
// download.
func (u *Updater) Update(ctx context.Context) error {
	_, err, _ := u.group.Do("update", func() (any, error) {
		if u.licenseKey == "" {
			return nil, ErrNoLicenseKey
		}
		if err := u.download(ctx); err != nil {
			return nil, err
		}
		if err := u.db.Reload(); err != nil {
			return nil, fmt.Errorf("reload asn database: %w", err)
		}
		return nil, nil
	})
	return err
}

func (u *Updater) download(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.downloadURL(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", asnEditionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("download %s: unexpected status %d: %s", asnEditionID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	gzipReader, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: open gzip: %w", asnEditionID, err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: read tar: %w", asnEditionID, err)
		}
		if header.Typeflag != tar.TypeReg || filepath.Base(header.Name) != ASNFileName {
			continue
		}

		if err := writeFileAtomic(u.db.Path(), tarReader); err != nil {
			return fmt.Errorf("%s: write file: %w", asnEditionID, err)
		}
		log.Info("GeoLite ASN database downloaded", "path", u.db.Path())
		return nil
	}

	return fmt.Errorf("%s: mmdb file not found in archive", asnEditionID)
}

func (u *Updater) downloadURL() string {
	return fmt.Sprintf("%s?edition_id=%s&license_key=%s&suffix=tar.gz", u.baseURL, asnEditionID, u.licenseKey)
}

func writeFileAtomic(destPath string, data io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), "geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmpFile.Name())
	}()

	if _, err := io.Copy(tmpFile, data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("copy data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	return os.Rename(tmpFile.Name(), destPath)
}
