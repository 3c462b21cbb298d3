package attribution

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/oschwald/geoip2-golang"
)

const ASNFileName = "GeoLite2-ASN.mmdb"

// ASNDatabase wraps a GeoLite2 ASN reader that can be swapped at runtime.
type ASNDatabase struct {
	path string

	mu     sync.RWMutex
	reader *geoip2.Reader
}

// OpenASNDatabase opens dataDir/GeoLite2-ASN.mmdb. A missing file is not an
// error: lookups simply find nothing until Reload succeeds.
func OpenASNDatabase(dataDir string) (*ASNDatabase, error) {
	db := &ASNDatabase{path: filepath.Join(dataDir, "geolite", ASNFileName)}
	if err := db.Reload(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return db, nil
}

func (d *ASNDatabase) Path() string {
	return d.path
}

// Reload reopens the database file and replaces the current reader.
func (d *ASNDatabase) Reload() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return err
	}

	reader, err := geoip2.FromBytes(data)
	if err != nil {
		return fmt.Errorf("attribution: open %s: %w", d.path, err)
	}

	d.mu.Lock()
	old := d.reader
	d.reader = reader
	d.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	log.Info("GeoLite ASN database loaded", "path", d.path)
	return nil
}

func (d *ASNDatabase) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.reader != nil
}

// Organization returns the autonomous system organisation for ip.
func (d *ASNDatabase) Organization(ip string) (string, bool) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.reader == nil {
		return "", false
	}

	record, err := d.reader.ASN(parsed)
	if err != nil {
		return "", false
	}
	return record.AutonomousSystemOrganization, true
}

func (d *ASNDatabase) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.reader == nil {
		return nil
	}
	err := d.reader.Close()
	d.reader = nil
	return err
}
