package ranking

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polytrend/internal/domain"
	"github.com/alanyoungcy/polytrend/internal/platform/polymarket"
)

// decodeRecords runs records through the same JSON path the Gamma client uses.
func decodeRecords(t *testing.T, body string) []polymarket.RawMarketRecord {
	t.Helper()
	var elems []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(body), &elems))
	out := make([]polymarket.RawMarketRecord, 0, len(elems))
	for _, e := range elems {
		var rec polymarket.RawMarketRecord
		if err := json.Unmarshal(e, &rec); err != nil {
			rec = polymarket.RawMarketRecord{DecodeErr: err}
		}
		out = append(out, rec)
	}
	return out
}

func TestNormalize_DropsNotJSONPricesWithoutAffectingSiblings(t *testing.T) {
	records := decodeRecords(t, `[
		{"id":"a","question":"A?","outcomePrices":"[\"0.3\",\"0.7\"]","volume24hr":100,"active":true,"closed":false},
		{"id":"b","question":"B?","outcomePrices":"not-json","volume24hr":500,"active":true,"closed":false},
		{"id":"c","question":"C?","outcomePrices":["0.9","0.1"],"volume24hr":50,"active":true,"closed":false}
	]`)

	results := Normalize(records)
	require.Len(t, results, 3)

	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.Equal(t, RejectBadOutcomePrices, results[1].Reject)
	assert.ErrorIs(t, results[1].Err(), domain.ErrMalformedRecord)
	assert.True(t, results[2].OK())

	markets, rejected := Accepted(results)
	require.Len(t, markets, 2)
	assert.Equal(t, "a", markets[0].ID)
	assert.Equal(t, "c", markets[1].ID)
	assert.Equal(t, map[RejectReason]int{RejectBadOutcomePrices: 1}, rejected)
}

func TestNormalize_RejectReasons(t *testing.T) {
	records := decodeRecords(t, `[
		{"question":"no id","outcomePrices":"[\"0.5\",\"0.5\"]","volume24hr":1,"active":true},
		{"id":"x1","question":"  ","outcomePrices":"[\"0.5\",\"0.5\"]","volume24hr":1,"active":true},
		{"id":"x2","question":"one price","outcomePrices":"[\"1\"]","volume24hr":1,"active":true},
		{"id":"x3","question":"zero vol","outcomePrices":"[\"0.5\",\"0.5\"]","volume24hr":0,"active":true},
		{"id":"x4","question":"inactive","outcomePrices":"[\"0.5\",\"0.5\"]","volume24hr":1,"active":false},
		{"id":"x5","question":"closed","outcomePrices":"[\"0.5\",\"0.5\"]","volume24hr":1,"active":true,"closed":true},
		{"id":"x6","question":"letters","outcomePrices":"[\"yes\",\"no\"]","volume24hr":1,"active":true},
		{"id":"x7","question":"missing prices","volume24hr":1,"active":true},
		42
	]`)

	want := []RejectReason{
		RejectMissingID,
		RejectMissingTitle,
		RejectTooFewPrices,
		RejectNonPositiveVolume,
		RejectInactive,
		RejectClosed,
		RejectBadOutcomePrices,
		RejectBadOutcomePrices,
		RejectUndecodable,
	}

	results := Normalize(records)
	require.Len(t, results, len(want))
	for i, r := range results {
		assert.False(t, r.OK(), "record %d should be rejected", i)
		assert.Equal(t, want[i], r.Reject, "record %d", i)
	}
}

func TestNormalize_VolumePrecedence(t *testing.T) {
	records := decodeRecords(t, `[
		{"id":"direct","question":"q","outcomePrices":"[\"0.5\",\"0.5\"]","volume24hr":"250.5","volume24hrClob":1,"active":true},
		{"id":"summed","question":"q","outcomePrices":"[\"0.5\",\"0.5\"]","volume24hrClob":30,"volume24hrAmm":"12","active":true},
		{"id":"clob-only","question":"q","outcomePrices":"[\"0.5\",\"0.5\"]","volume24hrClob":7,"active":true}
	]`)

	markets, rejected := Accepted(Normalize(records))
	require.Empty(t, rejected)
	require.Len(t, markets, 3)
	assert.InDelta(t, 250.5, markets[0].Volume24h, 1e-9)
	assert.InDelta(t, 42, markets[1].Volume24h, 1e-9)
	assert.InDelta(t, 7, markets[2].Volume24h, 1e-9)
}

func TestNormalize_CanonicalFields(t *testing.T) {
	records := decodeRecords(t, `[
		{"id":"m1","question":" Who wins? ","outcomePrices":"[\"0.25\",\"0.75\",\"0\"]","volume24hr":10,
		 "volume":"9000","image":"https://img/x.png","description":"desc","endDate":"2026-11-03T12:00:00Z","active":true},
		{"id":"m2","question":"Tagged","category":"Politics","outcomePrices":"[\"0.5\",\"0.5\"]","volume24hr":10,"endDate":"soon","active":true}
	]`)

	markets, _ := Accepted(Normalize(records))
	require.Len(t, markets, 2)

	m := markets[0]
	assert.Equal(t, "Who wins?", m.Title)
	assert.Equal(t, domain.DefaultCategory, m.Category)
	assert.InDelta(t, 0.25, m.Yes, 1e-9)
	assert.InDelta(t, 0.75, m.No, 1e-9)
	assert.InDelta(t, 9000, m.TotalVolume, 1e-9)
	require.NotNil(t, m.EndDate)
	assert.Equal(t, 2026, m.EndDate.Year())

	assert.Equal(t, "Politics", markets[1].Category)
	assert.Nil(t, markets[1].EndDate)
}

func TestNormalize_OutputSatisfiesPredicates(t *testing.T) {
	records := decodeRecords(t, `[
		{"id":"1","question":"q1","outcomePrices":"[\"0.1\",\"0.9\"]","volume24hr":5,"active":true},
		{"id":"","question":"q2","outcomePrices":"[\"0.1\",\"0.9\"]","volume24hr":5,"active":true},
		{"id":"3","question":"q3","outcomePrices":"[]","volume24hr":5,"active":true},
		{"id":"4","question":"q4","outcomePrices":"[\"0.2\",\"0.8\"]","volume24hrAmm":3,"active":"true"},
		{"id":"5","question":"q5","outcomePrices":"[\"0.2\",\"0.8\"]","volume24hr":-1,"active":true}
	]`)

	markets, _ := Accepted(Normalize(records))
	assert.LessOrEqual(t, len(markets), len(records))
	for _, m := range markets {
		assert.NotEmpty(t, m.ID)
		assert.NotEmpty(t, m.Title)
		assert.Greater(t, m.Volume24h, 0.0)
	}
	assert.Len(t, markets, 2)
}

func TestParseOutcomePrices(t *testing.T) {
	prices, err := ParseOutcomePrices(json.RawMessage(`"[\"0.12\", \"0.88\"]"`))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.12, 0.88}, prices)

	prices, err = ParseOutcomePrices(json.RawMessage(`[0.3, "0.7"]`))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.3, 0.7}, prices)

	_, err = ParseOutcomePrices(json.RawMessage(`"not-json"`))
	assert.Error(t, err)

	_, err = ParseOutcomePrices(nil)
	assert.Error(t, err)
}

func TestNormalize_NonFinitePricesAreRejected(t *testing.T) {
	records := decodeRecords(t, `[
		{"id":"nan","question":"q","outcomePrices":"[\"NaN\",\"0.5\"]","volume24hr":10,"active":true},
		{"id":"inf","question":"q","outcomePrices":"[\"0.5\",\"Infinity\"]","volume24hr":10,"active":true},
		{"id":"neg","question":"q","outcomePrices":["-Inf","0.5"],"volume24hr":10,"active":true},
		{"id":"pos","question":"q","outcomePrices":"[\"+Inf\",\"0.5\"]","volume24hr":10,"active":true},
		{"id":"ok","question":"q","outcomePrices":"[\"0.5\",\"0.5\"]","volume24hr":10,"active":true}
	]`)

	results := Normalize(records)
	require.Len(t, results, 5)
	for _, r := range results[:4] {
		assert.False(t, r.OK(), r.SourceID)
		assert.Equal(t, RejectBadOutcomePrices, r.Reject, r.SourceID)
	}
	assert.True(t, results[4].OK())
}

func TestNormalize_NonFiniteVolumes(t *testing.T) {
	records := decodeRecords(t, `[
		{"id":"inf","question":"q","outcomePrices":"[\"0.5\",\"0.5\"]","volume24hr":"Infinity","active":true},
		{"id":"nan","question":"q","outcomePrices":"[\"0.5\",\"0.5\"]","volume24hr":"NaN","volume24hrClob":"-Inf","active":true},
		{"id":"fallback","question":"q","outcomePrices":"[\"0.5\",\"0.5\"]","volume24hr":"NaN","volume24hrClob":12,"active":true},
		{"id":"total","question":"q","outcomePrices":"[\"0.5\",\"0.5\"]","volume24hr":5,"volume":"+Inf","active":true}
	]`)

	results := Normalize(records)
	require.Len(t, results, 4)
	assert.Equal(t, RejectNonPositiveVolume, results[0].Reject)
	assert.Equal(t, RejectNonPositiveVolume, results[1].Reject)

	require.True(t, results[2].OK())
	assert.InDelta(t, 12, results[2].Market.Volume24h, 1e-9)

	require.True(t, results[3].OK())
	assert.Zero(t, results[3].Market.TotalVolume)

	markets, _ := Accepted(results)
	_, err := json.Marshal(markets)
	assert.NoError(t, err)
}

func TestVolume24h_NonFiniteFieldsCountAsUnset(t *testing.T) {
	rec := polymarket.RawMarketRecord{
		Volume24hr:     polymarket.Number{Value: math.NaN(), Set: true},
		Volume24hrClob: polymarket.Number{Value: math.Inf(1), Set: true},
		Volume24hrAmm:  polymarket.Number{Value: 4, Set: true},
	}
	assert.InDelta(t, 4, Volume24h(rec), 1e-9)

	rec = polymarket.RawMarketRecord{
		Volume24hrClob: polymarket.Number{Value: math.MaxFloat64, Set: true},
		Volume24hrAmm:  polymarket.Number{Value: math.MaxFloat64, Set: true},
	}
	assert.Zero(t, Volume24h(rec))
}

func TestNormalize_ZeroDirectVolumeDoesNotFallBack(t *testing.T) {
	records := decodeRecords(t, `[
		{"id":"z","question":"q","outcomePrices":"[\"0.5\",\"0.5\"]","volume24hr":0,"volume24hrClob":40,"active":true}
	]`)

	results := Normalize(records)
	require.Len(t, results, 1)
	assert.Equal(t, RejectNonPositiveVolume, results[0].Reject)
}

func TestParseOutcomePrices_OnlyFirstTwoEntriesMatter(t *testing.T) {
	prices, err := ParseOutcomePrices(json.RawMessage(`"[\"0.4\",\"0.6\",\"abc\"]"`))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.4, 0.6}, prices)

	prices, err = ParseOutcomePrices(json.RawMessage(`[0.1, 0.2, {"x":1}, null]`))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, prices)

	_, err = ParseOutcomePrices(json.RawMessage(`["abc","0.6","0.1"]`))
	assert.Error(t, err)

	records := decodeRecords(t, `[
		{"id":"three","question":"q","outcomePrices":"[\"0.4\",\"0.6\",\"abc\"]","volume24hr":3,"active":true}
	]`)
	markets, rejected := Accepted(Normalize(records))
	assert.Empty(t, rejected)
	require.Len(t, markets, 1)
	assert.InDelta(t, 0.6, markets[0].No, 1e-9)
}
