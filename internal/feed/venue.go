package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"amm-quote-engine/internal/oracle"
)

const venueTickerPath = "/ticker"

// VenueOptions parameterise the secondary market source.
type VenueOptions struct {
	BaseURL   string
	Symbol    string
	Timeout   time.Duration
	UserAgent string
}

// Venue fetches a bid/ask ticker from the secondary market's HTTP API.
type Venue struct {
	opts    VenueOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewVenue constructs a secondary source.
func NewVenue(opts VenueOptions, logger zerolog.Logger) *Venue {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Venue{
		opts:    opts,
		logger:  logger.With().Str("component", "venue_feed").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// FetchSecondary retrieves the venue ticker and converts it to an oracle
// sample carrying the observed book.
func (v *Venue) FetchSecondary(ctx context.Context) (oracle.Sample, json.RawMessage, error) {
	if v.baseURL == "" {
		return oracle.Sample{}, nil, errors.New("venue base url not configured")
	}
	if v.opts.Symbol == "" {
		return oracle.Sample{}, nil, errors.New("venue symbol not configured")
	}

	endpoint := v.baseURL + venueTickerPath + "?symbol=" + url.QueryEscape(v.opts.Symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return oracle.Sample{}, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(v.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "ammquoter/1.0")
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return oracle.Sample{}, nil, err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return oracle.Sample{}, nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return oracle.Sample{}, nil, parseHTTPError(resp.StatusCode, payloadBytes)
	}

	var ticker tickerResponse
	if err := json.Unmarshal(payloadBytes, &ticker); err != nil {
		return oracle.Sample{}, nil, err
	}

	bid, err := decimal.NewFromString(ticker.Bid)
	if err != nil {
		return oracle.Sample{}, nil, fmt.Errorf("parse bid: %w", err)
	}
	ask, err := decimal.NewFromString(ticker.Ask)
	if err != nil {
		return oracle.Sample{}, nil, fmt.Errorf("parse ask: %w", err)
	}
	if bid.Sign() <= 0 || ask.Sign() <= 0 || ask.LessThan(bid) {
		return oracle.Sample{}, nil, fmt.Errorf("venue book unusable: bid=%s ask=%s", bid, ask)
	}

	ageSec := int64(0)
	if ticker.Timestamp > 0 {
		ageSec = time.Now().Unix() - ticker.Timestamp
		if ageSec < 0 {
			ageSec = 0
		}
	}

	sample := oracle.Sample{
		Mid:    bid.Add(ask).Div(decimal.NewFromInt(2)),
		Bid:    bid,
		Ask:    ask,
		AgeSec: ageSec,
		Status: oracle.StatusOK,
	}
	if ticker.ConfidenceBps != "" {
		conf, err := decimal.NewFromString(ticker.ConfidenceBps)
		if err != nil {
			return oracle.Sample{}, nil, fmt.Errorf("parse confidence: %w", err)
		}
		sample.ConfidenceBps = conf
	}

	return sample, json.RawMessage(payloadBytes), nil
}

type tickerResponse struct {
	Symbol        string `json:"symbol"`
	Bid           string `json:"bid"`
	Ask           string `json:"ask"`
	Last          string `json:"last"`
	ConfidenceBps string `json:"confidenceBps"`
	Timestamp     int64  `json:"timestamp"`
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("venue api error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("venue api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("venue api error (%d): %s", status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("venue api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("venue api error (%d)", status)
}

var _ SecondarySource = (*Venue)(nil)
