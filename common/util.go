// Copyright 2023-2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/spf13/viper"
)

// MarketCloseHour is the hour (eastern) official market-close snapshots are
// normalized to.
const (
	MarketCloseHour  = 16
	MarketOpenHour   = 9
	MarketOpenMinute = 30
)

// ArrToUpper uppercase every string in array
func ArrToUpper(arr []string) {
	for ii := range arr {
		arr[ii] = strings.ToUpper(arr[ii])
	}
}

func SetupLogging() {
	level := viper.GetString("log.level")
	level = strings.ToLower(level)

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	if viper.GetBool("log.report_caller") {
		log.Logger = log.With().Caller().Logger()
	}

	output := viper.GetString("log.output")
	switch output {
	case "stdout":
		if viper.GetBool("log.pretty") {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
		} else {
			log.Logger = log.Output(os.Stdout)
		}
	case "stderr", "":
		if viper.GetBool("log.pretty") {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		} else {
			log.Logger = log.Output(os.Stderr)
		}
	default:
		fh, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			panic(err)
		}
		if viper.GetBool("log.pretty") {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: fh})
		} else {
			log.Logger = log.Output(fh)
		}
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
}

// GetTimezone returns the reference trading timezone. All market-close
// normalization happens in this zone.
func GetTimezone() *time.Location {
	tz, err := time.LoadLocation("America/New_York") // New York is the reference time
	if err != nil {
		log.Panic().Err(err).Msg("could not load timezone")
	}
	return tz
}

// GetDisplayTimezone returns the timezone trades are journaled in for the
// local file backend. Trade timestamps carry a PST/PDT label suffix.
func GetDisplayTimezone() *time.Location {
	tz, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		log.Panic().Err(err).Msg("could not load timezone")
	}
	return tz
}

// CalendarDate truncates t to midnight in the trading timezone.
func CalendarDate(t time.Time) time.Time {
	tz := GetTimezone()
	local := t.In(tz)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tz)
}

// MarketCloseAt returns 16:00 eastern of t's calendar date, in UTC. Official
// market-close snapshots are stored with this timestamp.
func MarketCloseAt(t time.Time) time.Time {
	tz := GetTimezone()
	local := t.In(tz)
	return time.Date(local.Year(), local.Month(), local.Day(), MarketCloseHour, 0, 0, 0, tz).UTC()
}

// IsMarketCloseTimestamp reports whether t is normalized to 16:00 eastern.
func IsMarketCloseTimestamp(t time.Time) bool {
	local := t.In(GetTimezone())
	return local.Hour() == MarketCloseHour && local.Minute() == 0 && local.Second() == 0
}

// SameCalendarDate compares two instants by calendar date in the trading
// timezone.
func SameCalendarDate(a, b time.Time) bool {
	return CalendarDate(a).Equal(CalendarDate(b))
}
