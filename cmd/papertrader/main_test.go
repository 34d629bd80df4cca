package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/domain"
	"papertrader/money"
)

func TestVenueCommission(t *testing.T) {
	assert.True(t, venueCommission(domain.ClassASX).Equal(money.New(10.00)))
	assert.True(t, venueCommission(domain.ClassUS).Equal(money.New(1.00)))
	assert.True(t, venueCommission(domain.ClassTSX).Equal(money.New(1.00)))
}

func TestParseVenueClass(t *testing.T) {
	cases := []struct {
		in   string
		want domain.VenueClass
	}{
		{"us", domain.ClassUS},
		{"US", domain.ClassUS},
		{"asx", domain.ClassASX},
		{"ASX", domain.ClassASX},
	}
	for _, c := range cases {
		got, err := parseVenueClass(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}

	_, err := parseVenueClass("nyse")
	assert.Error(t, err)
}

func TestParseSimulateFlags_Defaults(t *testing.T) {
	venue, cycles, dryRun := parseSimulateFlags(nil)
	assert.Equal(t, "", venue)
	assert.Equal(t, 1, cycles)
	assert.False(t, dryRun)
}

func TestParseSimulateFlags_AllSet(t *testing.T) {
	venue, cycles, dryRun := parseSimulateFlags([]string{"--venue", "asx", "--cycles", "5", "--dry-run"})
	assert.Equal(t, "asx", venue)
	assert.Equal(t, 5, cycles)
	assert.True(t, dryRun)
}

func TestParseSimulateFlags_TrailingFlagWithNoValue(t *testing.T) {
	venue, cycles, _ := parseSimulateFlags([]string{"--venue"})
	assert.Equal(t, "", venue)
	assert.Equal(t, 1, cycles)
}
