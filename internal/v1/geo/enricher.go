// Package geo records (user, ip) connection events and lazily enriches ip
// records from the configured geo endpoint. Everything here runs off the
// socket path: all errors are logged and swallowed.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/driftchat/driftchat/internal/v1/logging"
	"github.com/driftchat/driftchat/internal/v1/store"
)

// Store is the subset of gateway operations the enricher needs.
type Store interface {
	UserJoinedExists(ctx context.Context, userID int64, ip string) (bool, error)
	GetIP(ctx context.Context, ip string) (*store.IPAddress, error)
	InsertIP(ctx context.Context, rec *store.IPAddress) error
	InsertUserJoined(ctx context.Context, userID, ipID int64) error
}

// Enricher performs the background (user, ip) bookkeeping.
type Enricher struct {
	store  Store
	apiURL string // template with one %s for the ip literal; empty disables lookups
	client *http.Client
}

// NewEnricher creates an Enricher. An empty apiURL skips the remote lookup
// and records bare ip rows.
func NewEnricher(st Store, apiURL string) *Enricher {
	return &Enricher{
		store:  st,
		apiURL: apiURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// geoResponse is the provider's JSON contract. Non-success statuses are
// tolerated and produce a bare record.
type geoResponse struct {
	Status      string `json:"status"`
	ISP         string `json:"isp"`
	Country     string `json:"country"`
	RegionName  string `json:"regionName"`
	City        string `json:"city"`
	CountryCode string `json:"countryCode"`
}

// RecordJoin ensures a (user, ip) row exists, creating and optionally
// enriching the ip record on first sighting. Safe to call from a background
// goroutine; it never returns an error.
func (e *Enricher) RecordJoin(ctx context.Context, userID int64, ip string) {
	exists, err := e.store.UserJoinedExists(ctx, userID, ip)
	if err != nil {
		logging.Error(ctx, "failed to check join record", zap.String("ip", ip), zap.Error(err))
		return
	}
	if exists {
		return
	}

	rec, err := e.store.GetIP(ctx, ip)
	if errors.Is(err, store.ErrNotFound) {
		rec = e.lookup(ctx, ip)
		if err := e.store.InsertIP(ctx, rec); err != nil {
			logging.Error(ctx, "failed to insert ip record", zap.String("ip", ip), zap.Error(err))
			return
		}
	} else if err != nil {
		logging.Error(ctx, "failed to load ip record", zap.String("ip", ip), zap.Error(err))
		return
	}

	if err := e.store.InsertUserJoined(ctx, userID, rec.ID); err != nil {
		logging.Error(ctx, "failed to insert join record", zap.String("ip", ip), zap.Error(err))
	}
}

// lookup fetches geo data for the ip. Any failure degrades to a bare record.
func (e *Enricher) lookup(ctx context.Context, ip string) *store.IPAddress {
	rec := &store.IPAddress{IP: ip}
	if e.apiURL == "" {
		return rec
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(e.apiURL, ip), nil)
	if err != nil {
		logging.Error(ctx, "failed to build geo request", zap.String("ip", ip), zap.Error(err))
		return rec
	}

	resp, err := e.client.Do(req)
	if err != nil {
		logging.Error(ctx, "geo lookup failed", zap.String("ip", ip), zap.Error(err))
		return rec
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed geoResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		logging.Error(ctx, "failed to decode geo response", zap.String("ip", ip), zap.Error(err))
		return rec
	}
	if parsed.Status != "success" {
		logging.Warn(ctx, "geo provider reported failure", zap.String("ip", ip), zap.String("status", parsed.Status))
		return rec
	}

	rec.ISP = &parsed.ISP
	rec.Country = &parsed.Country
	rec.CountryCode = &parsed.CountryCode
	rec.Region = &parsed.RegionName
	rec.City = &parsed.City
	return rec
}
