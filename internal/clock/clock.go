// Package clock computes market window boundaries and the Eastern-time
// calendar fragments used to build market slugs.
//
// The exchange names hourly and daily markets by their New York local time
// ("bitcoin-up-or-down-march-7-3pm-et"), so slug generation must be
// timezone-correct including DST; a server running in UTC would otherwise
// request a market that does not exist yet.
package clock

import (
	"fmt"
	"strings"
	"time"

	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

// eastern is the exchange's slug timezone. LoadLocation only fails when the
// system tzdata is broken, which init surfaces as a panic at startup.
var eastern *time.Location

func init() {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(fmt.Sprintf("load America/New_York tzdata: %v", err))
	}
	eastern = loc
}

// PeriodStart returns the Unix seconds of the window containing now,
// i.e. now floored to the period length.
func PeriodStart(now time.Time, tf types.Timeframe) int64 {
	period := tf.PeriodSeconds()
	return (now.Unix() / period) * period
}

// NextBoundary returns the Unix seconds of the first window boundary
// strictly after now.
func NextBoundary(now time.Time, tf types.Timeframe) int64 {
	return PeriodStart(now, tf) + tf.PeriodSeconds()
}

// UntilNextBoundary returns the duration until the next window boundary.
// Strictly positive: exactly on a boundary it returns one full period.
func UntilNextBoundary(now time.Time, tf types.Timeframe) time.Duration {
	next := NextBoundary(now, tf)
	d := time.Duration(next-now.Unix())*time.Second - time.Duration(now.Nanosecond())
	if d <= 0 {
		d += tf.Period()
	}
	return d
}

// SlugFragments holds the ET-localised calendar pieces of an hourly or daily
// market slug.
type SlugFragments struct {
	Month  string // lowercase English month name, e.g. "march"
	Day    int    // day of month, 1-31
	Hour12 int    // 12-hour clock hour, 1-12
	AMPM   string // "am" or "pm"
}

// FragmentsAt converts a window start to its Eastern-time slug fragments.
func FragmentsAt(periodTS int64) SlugFragments {
	et := time.Unix(periodTS, 0).In(eastern)

	hour12 := et.Hour() % 12
	if hour12 == 0 {
		hour12 = 12
	}
	ampm := "am"
	if et.Hour() >= 12 {
		ampm = "pm"
	}

	return SlugFragments{
		Month:  strings.ToLower(et.Month().String()),
		Day:    et.Day(),
		Hour12: hour12,
		AMPM:   ampm,
	}
}
