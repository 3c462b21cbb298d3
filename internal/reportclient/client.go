// Package reportclient talks to the aggregator: it ships reports, keeps a
// cached snapshot of the shared registry and applies live updates.
package reportclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"privacyspace/internal/broadcast"
	"privacyspace/internal/domain"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultQueueSize         = 256
	defaultHeartbeatInterval = 20 * time.Second
	defaultSnapshotPageSize  = 500
	defaultRequestTimeout    = 10 * time.Second
	writeTimeout             = 5 * time.Second
	maxSnapshotPages         = 10_000
)

type ReconnectPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: 10, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 30 * time.Second}
}

type Options struct {
	AggregatorURL     string
	ReporterID        string
	HTTPClient        *http.Client
	QueueSize         int
	HeartbeatInterval time.Duration
	SnapshotPageSize  int
	Reconnect         ReconnectPolicy

	// OnUpdate receives every update the cache accepted, from live frames
	// and from snapshots alike. Subjects a snapshot dropped arrive with
	// candidate status.
	OnUpdate func(domain.Update)
	Cache    *Cache
}

type Client struct {
	baseURL    string
	reporterID string
	http       *http.Client
	cache      *Cache
	onUpdate   func(domain.Update)

	heartbeat time.Duration
	pageSize  int
	reconnect ReconnectPolicy

	queue         chan domain.Report
	snapshotGroup singleflight.Group

	connected atomic.Bool
	degraded  atomic.Bool
	sent      atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	lastSync  atomic.Int64
}

type Status struct {
	Connected      bool      `json:"connected"`
	Degraded       bool      `json:"degraded"`
	CachedEntries  int       `json:"cached_entries"`
	ReportsSent    uint64    `json:"reports_sent"`
	ReportsDropped uint64    `json:"reports_dropped"`
	ReportsFailed  uint64    `json:"reports_failed"`
	LastSnapshot   time.Time `json:"last_snapshot,omitempty"`
}

type snapshotPage struct {
	Records       []domain.TrackerRecord `json:"records"`
	NextPageToken string                 `json:"next_page_token,omitempty"`
}

func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.AggregatorURL), "/")
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("reportclient: invalid aggregator url %q", opts.AggregatorURL)
	}
	if opts.ReporterID == "" {
		return nil, errors.New("reportclient: reporter id is required")
	}

	c := &Client{
		baseURL:    base,
		reporterID: opts.ReporterID,
		http:       opts.HTTPClient,
		cache:      opts.Cache,
		onUpdate:   opts.OnUpdate,
		heartbeat:  opts.HeartbeatInterval,
		pageSize:   opts.SnapshotPageSize,
		reconnect:  opts.Reconnect,
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.cache == nil {
		c.cache = NewCache()
	}
	if c.heartbeat <= 0 {
		c.heartbeat = defaultHeartbeatInterval
	}
	if c.pageSize <= 0 {
		c.pageSize = defaultSnapshotPageSize
	}

	defaults := DefaultReconnectPolicy()
	if c.reconnect.MaxAttempts <= 0 {
		c.reconnect.MaxAttempts = defaults.MaxAttempts
	}
	if c.reconnect.InitialBackoff <= 0 {
		c.reconnect.InitialBackoff = defaults.InitialBackoff
	}
	if c.reconnect.MaxBackoff < c.reconnect.InitialBackoff {
		c.reconnect.MaxBackoff = max(defaults.MaxBackoff, c.reconnect.InitialBackoff)
	}

	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	c.queue = make(chan domain.Report, queueSize)

	return c, nil
}

func (c *Client) Cache() *Cache {
	return c.cache
}

func (c *Client) ReporterID() string {
	return c.reporterID
}

// Lookup lets the client act as the verdict engine's shared snapshot.
func (c *Client) Lookup(subject string, kind domain.SubjectKind) (domain.TrackerStatus, bool) {
	return c.cache.Lookup(subject, kind)
}

// Submit queues a report for delivery. It never blocks; a full queue drops
// the report.
func (c *Client) Submit(report domain.Report) bool {
	if report.ReporterID == "" {
		report.ReporterID = c.reporterID
	}
	select {
	case c.queue <- report:
		return true
	default:
		c.dropped.Add(1)
		log.Debug("Report queue full, dropping report", "subject", report.Subject)
		return false
	}
}

// ServeReports posts queued reports until ctx is done. Failed posts are
// logged and not retried.
func (c *Client) ServeReports(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case report := <-c.queue:
			if err := c.postReport(ctx, report); err != nil {
				c.failed.Add(1)
				log.Debug("Report delivery failed", "subject", report.Subject, "error", err)
				continue
			}
			c.sent.Add(1)
		}
	}
}

func (c *Client) postReport(ctx context.Context, report domain.Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/reports", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("aggregator answered %s", resp.Status)
	}
	return nil
}

// SyncSnapshot fetches every page of the shared registry and replaces the
// cache with it. Concurrent callers share one fetch.
func (c *Client) SyncSnapshot(ctx context.Context) (int, error) {
	v, err, _ := c.snapshotGroup.Do("snapshot", func() (any, error) {
		records, err := c.fetchSnapshot(ctx)
		if err != nil {
			return 0, err
		}

		changed, removed := c.cache.Replace(records)
		for _, update := range changed {
			c.notify(update)
		}
		// Dropped subjects are no longer confirmed anywhere.
		for _, gone := range removed {
			gone.Status = domain.StatusCandidate
			c.notify(gone)
		}
		c.lastSync.Store(time.Now().UnixNano())

		log.Debug("Snapshot synchronized", "records", len(records), "changed", len(changed), "removed", len(removed))
		return len(records), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (c *Client) fetchSnapshot(ctx context.Context) ([]domain.TrackerRecord, error) {
	var (
		records []domain.TrackerRecord
		token   string
	)

	for page := 0; page < maxSnapshotPages; page++ {
		next, err := c.fetchSnapshotPage(ctx, token)
		if err != nil {
			return nil, err
		}
		records = append(records, next.Records...)
		if next.NextPageToken == "" {
			return records, nil
		}
		token = next.NextPageToken
	}

	return nil, errors.New("reportclient: snapshot did not terminate")
}

func (c *Client) fetchSnapshotPage(ctx context.Context, token string) (snapshotPage, error) {
	query := url.Values{}
	query.Set("status", string(domain.StatusConfirmed)+","+string(domain.StatusWhitelisted))
	query.Set("page_size", strconv.Itoa(c.pageSize))
	if token != "" {
		query.Set("page_token", token)
	}

	reqCtx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/snapshot?"+query.Encode(), nil)
	if err != nil {
		return snapshotPage{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return snapshotPage{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return snapshotPage{}, fmt.Errorf("fetch snapshot: aggregator answered %s", resp.Status)
	}

	var page snapshotPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return snapshotPage{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return page, nil
}

func (c *Client) applyUpdate(update domain.Update) {
	if err := c.cache.Apply(update); err != nil {
		var stale *domain.StaleUpdateError
		if !errors.As(err, &stale) {
			log.Warn("Could not apply update", "subject", update.Subject, "error", err)
		}
		return
	}
	c.notify(update)
}

func (c *Client) notify(update domain.Update) {
	if c.onUpdate != nil {
		c.onUpdate(update)
	}
}

// Run keeps a subscription to the aggregator open until ctx is done. After
// too many consecutive failed attempts it marks the client degraded and
// returns ErrReconnectExhausted.
func (c *Client) Run(ctx context.Context) error {
	failures := 0
	backoff := c.reconnect.InitialBackoff

	for {
		established, err := c.session(ctx)
		c.connected.Store(false)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if established {
			failures = 0
			backoff = c.reconnect.InitialBackoff
		}
		failures++

		if failures >= c.reconnect.MaxAttempts {
			c.degraded.Store(true)
			log.Error("Aggregator unreachable, continuing with local state", "attempts", failures, "error", err)
			return ErrReconnectExhausted
		}

		wait := jitter(backoff)
		log.Warn("Aggregator connection lost, reconnecting", "attempt", failures, "in", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = min(backoff*2, c.reconnect.MaxBackoff)
	}
}

// jitter picks a wait in [d/2, d].
func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(d-half+1)
}

// session runs one subscription. established reports whether the stream
// was set up and the snapshot synced before it ended.
func (c *Client) session(ctx context.Context) (established bool, err error) {
	subscribeURL := c.baseURL + "/subscribe?reporter_id=" + url.QueryEscape(c.reporterID)

	conn, _, err := websocket.Dial(ctx, subscribeURL, &websocket.DialOptions{HTTPClient: c.http})
	if err != nil {
		return false, fmt.Errorf("dial subscribe: %w", err)
	}
	defer conn.CloseNow()

	var ready broadcast.Frame
	if err := wsjson.Read(ctx, conn, &ready); err != nil {
		return false, fmt.Errorf("read ready frame: %w", err)
	}
	if ready.Type != broadcast.FrameReady {
		return false, fmt.Errorf("%w: %s", ErrUnexpectedFrame, ready.Type)
	}

	// Updates published while the snapshot loads are buffered in the session
	// queue and applied afterwards; versions make the overlap harmless.
	if _, err := c.SyncSnapshot(ctx); err != nil {
		return false, err
	}

	c.connected.Store(true)
	c.degraded.Store(false)
	log.Info("Subscribed to aggregator", "session", ready.SessionID, "cached", c.cache.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.readFrames(gctx, conn)
	})
	g.Go(func() error {
		return c.sendHeartbeats(gctx, conn)
	})

	err = g.Wait()
	if ctx.Err() != nil {
		conn.Close(websocket.StatusNormalClosure, "closed")
	}
	return true, err
}

func (c *Client) readFrames(ctx context.Context, conn *websocket.Conn) error {
	for {
		var frame broadcast.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		switch frame.Type {
		case broadcast.FrameUpdate:
			if frame.Update != nil {
				c.applyUpdate(*frame.Update)
			}
		case broadcast.FrameResync:
			log.Info("Aggregator requested resync")
			if _, err := c.SyncSnapshot(ctx); err != nil {
				return fmt.Errorf("resync: %w", err)
			}
		case broadcast.FrameHeartbeatAck:
		default:
			log.Debug("Ignoring frame", "type", frame.Type)
		}
	}
}

func (c *Client) sendHeartbeats(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, broadcast.Frame{Type: broadcast.FrameHeartbeat})
			cancel()
			if err != nil {
				return fmt.Errorf("send heartbeat: %w", err)
			}
		}
	}
}

func (c *Client) Degraded() bool {
	return c.degraded.Load()
}

func (c *Client) Status() Status {
	status := Status{
		Connected:      c.connected.Load(),
		Degraded:       c.degraded.Load(),
		CachedEntries:  c.cache.Len(),
		ReportsSent:    c.sent.Load(),
		ReportsDropped: c.dropped.Load(),
		ReportsFailed:  c.failed.Load(),
	}
	if ts := c.lastSync.Load(); ts > 0 {
		status.LastSnapshot = time.Unix(0, ts).UTC()
	}
	return status
}
