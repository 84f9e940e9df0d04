package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSource(t *testing.T) {
	for _, s := range AllSources() {
		got, err := ParseSource(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseSource("rakuten")
	assert.Error(t, err)
}

func TestProduct_ID(t *testing.T) {
	p := &Product{Source: SourceAWIN, ExternalID: "12345"}
	assert.Equal(t, "awin:12345", p.ID())
}

func TestProduct_HasURL(t *testing.T) {
	assert.False(t, (&Product{}).HasURL())
	assert.True(t, (&Product{ProductURL: "https://x.test/p"}).HasURL())
	assert.True(t, (&Product{LandingURL: "https://x.test/l"}).HasURL())
}

func TestRunReport_Finalize(t *testing.T) {
	started := time.Now().Add(-50 * time.Millisecond)

	r := NewRunReport(started)
	r.Sources[SourceAWIN] = &SourceReport{Fetched: 3, Normalized: 3, Upserted: 3}
	r.Finalize(started)
	assert.True(t, r.OK)
	assert.GreaterOrEqual(t, r.TookMS, int64(50))

	r = NewRunReport(started)
	sr := &SourceReport{}
	sr.AddError("fetch failed")
	r.Sources[SourceCJ] = sr
	r.Finalize(started)
	assert.False(t, r.OK)

	r = NewRunReport(started)
	r.WinnerPolicyError = "policy call failed"
	r.Finalize(started)
	assert.False(t, r.OK)
}
