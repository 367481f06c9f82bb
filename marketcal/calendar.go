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

package marketcal

import (
	"sync"
	"time"

	"github.com/fundfolio/ff-api/common"
)

// Calendar answers trading-day and market-hours questions for the combined
// US+Canada market. All comparisons happen in the trading timezone
// (America/New_York); callers convert to UTC only at persistence.
type Calendar struct {
	tz *time.Location

	locker      sync.RWMutex
	holidays    map[int]map[int64]bool
	earlyCloses map[int]map[int64]int
}

func New() *Calendar {
	return &Calendar{
		tz:          common.GetTimezone(),
		holidays:    make(map[int]map[int64]bool),
		earlyCloses: make(map[int]map[int64]int),
	}
}

// Timezone returns the trading timezone.
func (cal *Calendar) Timezone() *time.Location {
	return cal.tz
}

func (cal *Calendar) holidaysForYear(year int) map[int64]bool {
	cal.locker.RLock()
	m, ok := cal.holidays[year]
	cal.locker.RUnlock()
	if ok {
		return m
	}

	cal.locker.Lock()
	defer cal.locker.Unlock()
	if m, ok = cal.holidays[year]; ok {
		return m
	}
	m = marketHolidays(year, cal.tz)
	cal.holidays[year] = m
	return m
}

func (cal *Calendar) earlyClosesForYear(year int) map[int64]int {
	cal.locker.RLock()
	m, ok := cal.earlyCloses[year]
	cal.locker.RUnlock()
	if ok {
		return m
	}

	cal.locker.Lock()
	defer cal.locker.Unlock()
	if m, ok = cal.earlyCloses[year]; ok {
		return m
	}
	m = earlyCloses(year, cal.tz)
	cal.earlyCloses[year] = m
	return m
}

func (cal *Calendar) midnight(t time.Time) time.Time {
	local := t.In(cal.tz)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, cal.tz)
}

// IsMarketHoliday returns true if the specified date is a market holiday
func (cal *Calendar) IsMarketHoliday(t time.Time) bool {
	d := cal.midnight(t)
	return cal.holidaysForYear(d.Year())[d.Unix()]
}

// EarlyClose returns the close time of an early close market day, e.g. 1300,
// or 0 when the day closes at the regular time.
func (cal *Calendar) EarlyClose(t time.Time) int {
	d := cal.midnight(t)
	return cal.earlyClosesForYear(d.Year())[d.Unix()]
}

// IsTradingDay returns true if the specified date is a weekday that is not a
// market holiday.
func (cal *Calendar) IsTradingDay(t time.Time) bool {
	local := t.In(cal.tz)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	return !cal.IsMarketHoliday(local)
}

// IsMarketOpen returns true if the specified instant falls within regular
// trading hours of a trading day.
func (cal *Calendar) IsMarketOpen(at time.Time) bool {
	local := at.In(cal.tz)
	if !cal.IsTradingDay(local) {
		return false
	}

	closeTime := common.MarketCloseHour * 100
	if early := cal.EarlyClose(local); early != 0 {
		closeTime = early
	}

	timeOfDay := local.Hour()*100 + local.Minute()
	openTime := common.MarketOpenHour*100 + common.MarketOpenMinute
	return timeOfDay >= openTime && timeOfDay < closeTime
}

// MarketOpenTime returns 09:30 eastern of the date's calendar day.
func (cal *Calendar) MarketOpenTime(date time.Time) time.Time {
	d := cal.midnight(date)
	return time.Date(d.Year(), d.Month(), d.Day(), common.MarketOpenHour, common.MarketOpenMinute, 0, 0, cal.tz)
}

// MarketCloseTime returns the official close of the date's calendar day,
// honoring early closes.
func (cal *Calendar) MarketCloseTime(date time.Time) time.Time {
	d := cal.midnight(date)
	hour := common.MarketCloseHour
	minute := 0
	if early := cal.EarlyClose(d); early != 0 {
		hour = early / 100
		minute = early % 100
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, cal.tz)
}

// NextTradingDay returns the first trading day strictly after date.
func (cal *Calendar) NextTradingDay(date time.Time) time.Time {
	d := cal.midnight(date).AddDate(0, 0, 1)
	for !cal.IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// PreviousTradingDay returns the last trading day strictly before date.
func (cal *Calendar) PreviousTradingDay(date time.Time) time.Time {
	d := cal.midnight(date).AddDate(0, 0, -1)
	for !cal.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// TradingDaysBetween returns all trading days in [a, b] inclusive, ascending.
func (cal *Calendar) TradingDaysBetween(a, b time.Time) []time.Time {
	begin := cal.midnight(a)
	end := cal.midnight(b)
	if end.Before(begin) {
		return nil
	}

	var days []time.Time
	for d := begin; !d.After(end); d = d.AddDate(0, 0, 1) {
		if cal.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// LastTradingDate returns the most recent trading date whose market open is
// at or before the given instant. On Monday before the open this is the
// prior Friday.
func (cal *Calendar) LastTradingDate(at time.Time) time.Time {
	local := at.In(cal.tz)
	if cal.IsTradingDay(local) && !local.Before(cal.MarketOpenTime(local)) {
		return cal.midnight(local)
	}
	return cal.PreviousTradingDay(local)
}
