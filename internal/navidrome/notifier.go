// Package navidrome asks a Navidrome server to rescan its library.
package navidrome

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cesargomez89/tubedrop/internal/constants"
	"github.com/cesargomez89/tubedrop/internal/logger"
	"github.com/cesargomez89/tubedrop/internal/metrics"
)

const (
	apiVersion = "1.16.1"
	clientName = "tubedrop"
)

type Config struct {
	BaseURL     string
	Username    string
	Password    string
	MinInterval time.Duration
}

// Notifier triggers library scans through the Subsonic API. Requests closer
// together than MinInterval are dropped, since one scan picks up every file
// written before it starts.
type Notifier struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
}

func NewNotifier(cfg Config, log *logger.Logger) *Notifier {
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Notifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: constants.RescanTimeout},
		limiter:    rate.NewLimiter(limit, 1),
		logger:     log.WithComponent("navidrome"),
	}
}

// Enabled reports whether a server URL is configured.
func (n *Notifier) Enabled() bool {
	return n.cfg.BaseURL != ""
}

type subsonicEnvelope struct {
	Response struct {
		Status string `json:"status"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"subsonic-response"`
}

// Notify requests a scan. A coalesced or disabled request returns nil.
func (n *Notifier) Notify(ctx context.Context) error {
	if !n.Enabled() {
		return nil
	}
	if !n.limiter.Allow() {
		n.logger.Debug("Library scan recently requested, skipping")
		metrics.RecordRescan(metrics.RescanSkipped)
		return nil
	}

	if err := n.startScan(ctx); err != nil {
		metrics.RecordRescan(metrics.RescanFailed)
		return err
	}
	metrics.RecordRescan(metrics.RescanOK)
	n.logger.Info("Library scan requested")
	return nil
}

func (n *Notifier) startScan(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, constants.RescanTimeout)
	defer cancel()

	endpoint, err := n.scanURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("navidrome scan request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("navidrome scan returned status %d", resp.StatusCode)
	}

	var env subsonicEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding navidrome response: %w", err)
	}
	if env.Response.Status != "ok" {
		if env.Response.Error != nil {
			return fmt.Errorf("navidrome scan rejected: %s (code %d)", env.Response.Error.Message, env.Response.Error.Code)
		}
		return fmt.Errorf("navidrome scan rejected with status %q", env.Response.Status)
	}
	return nil
}

func (n *Notifier) scanURL() (string, error) {
	salt, err := newSalt()
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("u", n.cfg.Username)
	q.Set("t", Token(n.cfg.Password, salt))
	q.Set("s", salt)
	q.Set("v", apiVersion)
	q.Set("c", clientName)
	q.Set("f", "json")

	return strings.TrimRight(n.cfg.BaseURL, "/") + "/rest/startScan?" + q.Encode(), nil
}

// Token is the Subsonic authentication token md5(password + salt).
func Token(password, salt string) string {
	sum := md5.Sum([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

func newSalt() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}
