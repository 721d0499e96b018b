package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"techgenie/models"
)

func TestDurationHours(t *testing.T) {
	tests := []struct {
		name     string
		duration models.Duration
		want     int
	}{
		{name: "12 hours", duration: models.Duration12h, want: 12},
		{name: "one day", duration: models.Duration1d, want: 24},
		{name: "two days", duration: models.Duration2d, want: 48},
		{name: "five days", duration: models.Duration5d, want: 120},
		{name: "ten days", duration: models.Duration10d, want: 240},
		{name: "unknown option falls back to one day", duration: models.Duration("3w"), want: 24},
		{name: "empty option falls back to one day", duration: models.Duration(""), want: 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.duration.Hours())
		})
	}
}

func TestDurationValid(t *testing.T) {
	assert.True(t, models.Duration1d.Valid())
	assert.False(t, models.Duration("3w").Valid())
}

func TestAdHighestAmount(t *testing.T) {
	ad := models.Ad{Price: 100}
	assert.Equal(t, int64(100), ad.HighestAmount(), "starting price without bids")
	assert.Nil(t, ad.HighestBid())

	ad.Bids = []models.Bid{
		{Bidder: "bob", Amount: 200},
		{Bidder: "alice", Amount: 150},
	}
	assert.Equal(t, int64(200), ad.HighestAmount())
	assert.Equal(t, "bob", ad.HighestBid().Bidder)
}

func TestAdExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ad := models.Ad{EndTime: now.Add(time.Hour)}
	assert.False(t, ad.Expired(now))
	assert.True(t, ad.Expired(now.Add(time.Hour)), "end time itself counts as expired")
	assert.True(t, ad.Expired(now.Add(2*time.Hour)))
}
