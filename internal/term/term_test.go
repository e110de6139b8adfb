package term

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVariants(t *testing.T) {
	cases := []struct {
		in     string
		season Season
		year   int
	}{
		{"Spring 2023", Spring, 2023},
		{"2023 Spring", Spring, 2023},
		{"SP23", Spring, 2023},
		{"SP 23", Spring, 2023},
		{"sp2023", Spring, 2023},
		{"Fall '22", Fall, 2022},
		{"FA2022", Fall, 2022},
		{"Autumn 2022", Fall, 2022},
		{"Winter 2024 Term", Winter, 2024},
		{"Summer Session 2021", Summer, 2021},
		{"2026-WI", Winter, 2026},
	}
	for _, tc := range cases {
		got, ok := Parse(tc.in)
		require.True(t, ok, "Parse(%q)", tc.in)
		assert.Equal(t, tc.season, got.Season, "Parse(%q)", tc.in)
		assert.Equal(t, tc.year, got.Year, "Parse(%q)", tc.in)
	}
}

func TestParseRejects(t *testing.T) {
	for _, in := range []string{"", "Spring", "2023", "Default Term", "semester two"} {
		_, ok := Parse(in)
		assert.False(t, ok, "Parse(%q)", in)
	}
}

func TestKeyCanonical(t *testing.T) {
	assert.Equal(t, "spring-2023", Key("Spring 2023"))
	assert.Equal(t, "spring-2023", Key("SP23"))
	assert.Equal(t, "spring-2023", Key("2023 spring"))
	assert.Equal(t, "fall-2022", Key("Autumn '22"))
}

func TestKeyIsTotal(t *testing.T) {
	// Unparseable labels still get some stable key.
	assert.Equal(t, "default-term", Key("Default Term"))
	assert.Equal(t, "default-term", Key("  Default   Term!  "))
	assert.Equal(t, "unknown-term", Key(""))
	assert.Equal(t, "unknown-term", Key("   ---   "))
}

func TestKeyDeterministic(t *testing.T) {
	labels := []string{"Spring 2023", "weird🙂label", "Default Term", "FA 99"}
	for _, l := range labels {
		assert.Equal(t, Key(l), Key(l), "Key(%q) must be stable", l)
	}
}

func TestInSeason(t *testing.T) {
	assert.True(t, InSeason(Spring, time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, InSeason(Spring, time.Date(2023, time.October, 1, 0, 0, 0, 0, time.UTC)))
	// Winter wraps the year boundary.
	assert.True(t, InSeason(Winter, time.Date(2023, time.December, 15, 0, 0, 0, 0, time.UTC)))
	assert.True(t, InSeason(Winter, time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)))
	assert.False(t, InSeason(Winter, time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC)))
}
