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

import "time"

// Combined US + Canada market holiday rules. The journal trades NYSE/NASDAQ
// and TSX listed symbols so a day either market is dark is treated as a
// non-trading day for snapshot purposes.

// earlyCloseTime is the HHMM close used on half days.
const earlyCloseTime = 1300

// nthWeekday returns the n-th (1-based) weekday of the month.
func nthWeekday(year int, month time.Month, weekday time.Weekday, n int, tz *time.Location) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, tz)
	offset := (int(weekday) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset+(n-1)*7)
}

// lastWeekday returns the last weekday of the month.
func lastWeekday(year int, month time.Month, weekday time.Weekday, tz *time.Location) time.Time {
	d := time.Date(year, month+1, 1, 0, 0, 0, 0, tz).AddDate(0, 0, -1)
	offset := (int(d.Weekday()) - int(weekday) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

// observed shifts a fixed-date holiday that falls on a weekend to the nearest
// weekday: Saturday observes Friday, Sunday observes Monday.
func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

// easterSunday computes Easter via the anonymous Gregorian algorithm.
func easterSunday(year int, tz *time.Location) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, tz)
}

// goodFriday is two days before Easter Sunday.
func goodFriday(year int, tz *time.Location) time.Time {
	return easterSunday(year, tz).AddDate(0, 0, -2)
}

// victoriaDay is the Monday on or before May 24.
func victoriaDay(year int, tz *time.Location) time.Time {
	d := time.Date(year, time.May, 24, 0, 0, 0, 0, tz)
	offset := (int(d.Weekday()) - int(time.Monday) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

// marketHolidays returns all combined-market holidays for a year, keyed by
// midnight-unix in the calendar timezone.
func marketHolidays(year int, tz *time.Location) map[int64]bool {
	days := []time.Time{
		observed(time.Date(year, time.January, 1, 0, 0, 0, 0, tz)),
		nthWeekday(year, time.January, time.Monday, 3, tz),  // MLK day
		nthWeekday(year, time.February, time.Monday, 3, tz), // Presidents / Family day
		goodFriday(year, tz),
		victoriaDay(year, tz),
		lastWeekday(year, time.May, time.Monday, tz), // Memorial day
		observed(time.Date(year, time.July, 1, 0, 0, 0, 0, tz)),
		observed(time.Date(year, time.July, 4, 0, 0, 0, 0, tz)),
		nthWeekday(year, time.August, time.Monday, 1, tz),    // Civic holiday
		nthWeekday(year, time.September, time.Monday, 1, tz), // Labor day
		nthWeekday(year, time.October, time.Monday, 2, tz),   // Canadian Thanksgiving
		nthWeekday(year, time.November, time.Thursday, 4, tz),
		observed(time.Date(year, time.December, 25, 0, 0, 0, 0, tz)),
		observed(time.Date(year, time.December, 26, 0, 0, 0, 0, tz)),
	}
	if year >= 2022 {
		days = append(days, observed(time.Date(year, time.June, 19, 0, 0, 0, 0, tz)))
	}

	m := make(map[int64]bool, len(days))
	for _, d := range days {
		m[d.Unix()] = true
	}
	return m
}

// earlyCloses returns half-day close times (HHMM) keyed by midnight-unix.
// Half days: July 3 (when both it and July 4 land on a weekday), the day
// after US Thanksgiving, and Christmas Eve when it is a weekday.
func earlyCloses(year int, tz *time.Location) map[int64]int {
	m := make(map[int64]int, 3)

	july3 := time.Date(year, time.July, 3, 0, 0, 0, 0, tz)
	july4 := time.Date(year, time.July, 4, 0, 0, 0, 0, tz)
	if isWeekday(july3) && isWeekday(july4) {
		m[july3.Unix()] = earlyCloseTime
	}

	blackFriday := nthWeekday(year, time.November, time.Thursday, 4, tz).AddDate(0, 0, 1)
	m[blackFriday.Unix()] = earlyCloseTime

	xmasEve := time.Date(year, time.December, 24, 0, 0, 0, 0, tz)
	if isWeekday(xmasEve) {
		m[xmasEve.Unix()] = earlyCloseTime
	}

	return m
}

func isWeekday(t time.Time) bool {
	return t.Weekday() != time.Saturday && t.Weekday() != time.Sunday
}
