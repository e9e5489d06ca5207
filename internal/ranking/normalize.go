// Package ranking turns raw upstream listings into validated markets and
// selects the top-K of them by 24-hour volume.
package ranking

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polytrend/internal/domain"
	"github.com/alanyoungcy/polytrend/internal/platform/polymarket"
)

// RejectReason explains why a raw record was dropped.
type RejectReason string

const (
	RejectUndecodable       RejectReason = "undecodable"
	RejectMissingID         RejectReason = "missing_id"
	RejectMissingTitle      RejectReason = "missing_title"
	RejectBadOutcomePrices  RejectReason = "bad_outcome_prices"
	RejectTooFewPrices      RejectReason = "too_few_prices"
	RejectNonPositiveVolume RejectReason = "non_positive_volume"
	RejectInactive          RejectReason = "inactive"
	RejectClosed            RejectReason = "closed"
)

// Result is the per-record outcome of normalization: either Market is set, or
// Reject names why the record was dropped.
type Result struct {
	SourceID string
	Market   *domain.CanonicalMarket
	Reject   RejectReason
	Detail   string
}

// OK reports whether the record was accepted.
func (r Result) OK() bool { return r.Market != nil }

// Err returns the rejection as an error wrapping domain.ErrMalformedRecord,
// or nil for accepted records.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	if r.Detail != "" {
		return fmt.Errorf("%w: %s: %s", domain.ErrMalformedRecord, r.Reject, r.Detail)
	}
	return fmt.Errorf("%w: %s", domain.ErrMalformedRecord, r.Reject)
}

// Normalize validates every raw record independently. It never fails: a
// malformed record produces a rejected Result and processing moves on.
// The output has one Result per input, in input order.
func Normalize(raw []polymarket.RawMarketRecord) []Result {
	out := make([]Result, 0, len(raw))
	for _, rec := range raw {
		out = append(out, normalizeOne(rec))
	}
	return out
}

// Accepted splits results into the accepted markets (in input order) and a
// count of rejections per reason.
func Accepted(results []Result) ([]domain.CanonicalMarket, map[RejectReason]int) {
	markets := make([]domain.CanonicalMarket, 0, len(results))
	rejected := make(map[RejectReason]int)
	for _, r := range results {
		if r.OK() {
			markets = append(markets, *r.Market)
			continue
		}
		rejected[r.Reject]++
	}
	return markets, rejected
}

func normalizeOne(rec polymarket.RawMarketRecord) Result {
	id := strings.TrimSpace(rec.ID)
	reject := func(reason RejectReason, detail string) Result {
		return Result{SourceID: id, Reject: reason, Detail: detail}
	}

	if rec.DecodeErr != nil {
		return reject(RejectUndecodable, rec.DecodeErr.Error())
	}
	if id == "" {
		return reject(RejectMissingID, "")
	}
	title := strings.TrimSpace(rec.Question)
	if title == "" {
		return reject(RejectMissingTitle, "")
	}
	if !rec.IsActive() {
		return reject(RejectInactive, "")
	}
	if rec.IsClosed() {
		return reject(RejectClosed, "")
	}

	prices, err := ParseOutcomePrices(rec.OutcomePrices)
	if err != nil {
		return reject(RejectBadOutcomePrices, err.Error())
	}
	if len(prices) < 2 {
		return reject(RejectTooFewPrices, fmt.Sprintf("got %d", len(prices)))
	}

	vol := Volume24h(rec)
	if !(vol > 0) {
		return reject(RejectNonPositiveVolume, strconv.FormatFloat(vol, 'f', -1, 64))
	}

	total := 0.0
	if v, ok := finite(rec.Volume); ok && v > 0 {
		total = v
	}

	category := strings.TrimSpace(rec.Category)
	if category == "" {
		category = domain.DefaultCategory
	}

	m := &domain.CanonicalMarket{
		ID:          id,
		Title:       title,
		Category:    category,
		Description: rec.Description,
		Yes:         prices[0],
		No:          prices[1],
		Volume24h:   vol,
		TotalVolume: total,
		EndDate:     parseEndDate(rec.EndDate),
		Image:       rec.Image,
	}
	return Result{SourceID: id, Market: m}
}

// Volume24h derives the 24-hour volume: the direct volume24hr field when it
// is present and finite, otherwise the sum of the CLOB and AMM sub-channel
// volumes with missing or non-finite channels counted as zero. A present
// volume24hr of zero is taken as-is.
func Volume24h(rec polymarket.RawMarketRecord) float64 {
	if v, ok := finite(rec.Volume24hr); ok {
		return v
	}
	var sum float64
	if v, ok := finite(rec.Volume24hrClob); ok {
		sum += v
	}
	if v, ok := finite(rec.Volume24hrAmm); ok {
		sum += v
	}
	if math.IsInf(sum, 0) {
		return 0
	}
	return sum
}

func finite(n polymarket.Number) (float64, bool) {
	if !n.Set || math.IsNaN(n.Value) || math.IsInf(n.Value, 0) {
		return 0, false
	}
	return n.Value, true
}

var errNoPrices = errors.New("outcome prices missing")

// ParseOutcomePrices accepts either a JSON array of numbers or numeric
// strings, or a JSON string that itself encodes such an array. Only the
// first two entries (yes, no) are parsed; fewer than two yields a short
// slice and no error.
func ParseOutcomePrices(raw json.RawMessage) ([]float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, errNoPrices
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("decode outcome price string: %w", err)
		}
		inner = strings.TrimSpace(inner)
		if inner == "" {
			return nil, errNoPrices
		}
		raw = json.RawMessage(inner)
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("decode outcome price list: %w", err)
	}

	if len(elems) > 2 {
		elems = elems[:2]
	}
	prices := make([]float64, 0, len(elems))
	for i, e := range elems {
		p, err := parsePrice(e)
		if err != nil {
			return nil, fmt.Errorf("outcome price %d: %w", i, err)
		}
		prices = append(prices, p)
	}
	return prices, nil
}

func parsePrice(e json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(e, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(e, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", string(e))
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not finite: %s", s)
	}
	return f, nil
}

// parseEndDate accepts RFC 3339 timestamps and bare dates. Anything else is
// treated as absent; an end date is optional and never grounds for rejection.
func parseEndDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
