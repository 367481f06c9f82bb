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

package data

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fundfolio/ff-api/common"
	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// frameEntry is one cached series plus the interval it is known to cover.
// Coverage may be wider than the rows themselves when a vendor legitimately
// has no data inside the requested range.
type frameEntry struct {
	Frame      *PriceFrame `json:"frame"`
	CoverBegin time.Time   `json:"coverBegin"`
	CoverEnd   time.Time   `json:"coverEnd"`
	FetchedAt  time.Time   `json:"fetchedAt"`
}

// PriceCache holds recently fetched price frames. Entries expire after a TTL
// and a request only hits when the cached coverage interval contains the
// requested range. A serialized copy of each entry also goes through the
// process byte cache so an optional redis tier can share frames across
// processes. Every failure here is non-fatal; the caller just refetches.
type PriceCache struct {
	frames *lru.Cache
	ttl    time.Duration
}

func NewPriceCache() *PriceCache {
	size := viper.GetInt("cache.local_size")
	if size <= 0 {
		size = 64
	}
	cache, err := lru.New(size)
	if err != nil {
		log.Panic().Err(err).Msg("could not initialize price cache")
	}

	ttl := viper.GetDuration("cache.price_ttl")
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &PriceCache{
		frames: cache,
		ttl:    ttl,
	}
}

func priceCacheKey(ticker string) string {
	return fmt.Sprintf("prices:%s", NormalizeTicker(ticker))
}

// Get returns the cached window for [begin, end] when a fresh entry covers
// the full range.
func (pc *PriceCache) Get(ticker string, begin, end time.Time) (*PriceFrame, bool) {
	key := priceCacheKey(ticker)

	entry, ok := pc.lookup(key)
	if !ok {
		return nil, false
	}

	if time.Since(entry.FetchedAt) > pc.ttl {
		pc.frames.Remove(key)
		return nil, false
	}
	if NaiveDate(begin).Before(entry.CoverBegin) || NaiveDate(end).After(entry.CoverEnd) {
		return nil, false
	}

	window := entry.Frame.Window(begin, end)
	window.Source = SourceCache
	return window, true
}

// lookup checks the in-process LRU first and falls back to the shared byte
// cache.
func (pc *PriceCache) lookup(key string) (*frameEntry, bool) {
	if cached, ok := pc.frames.Get(key); ok {
		if entry, ok := cached.(*frameEntry); ok {
			return entry, true
		}
	}

	raw, err := common.CacheGet(key)
	if err != nil {
		return nil, false
	}

	entry := &frameEntry{}
	if err := json.Unmarshal(raw, entry); err != nil {
		log.Warn().Err(err).Str("Key", key).Msg("could not decode cached price frame")
		return nil, false
	}
	pc.frames.Add(key, entry)
	return entry, true
}

// Put stores a frame fetched for [begin, end], merging with any overlapping
// or adjacent entry already cached for the ticker.
func (pc *PriceCache) Put(frame *PriceFrame, begin, end time.Time) {
	if frame.Empty() {
		return
	}

	key := priceCacheKey(frame.Ticker)
	entry := &frameEntry{
		Frame:      frame,
		CoverBegin: NaiveDate(begin),
		CoverEnd:   NaiveDate(end),
		FetchedAt:  time.Now(),
	}

	if prev, ok := pc.lookup(key); ok && time.Since(prev.FetchedAt) <= pc.ttl {
		merged := &PriceFrame{Ticker: frame.Ticker, Source: frame.Source, Rows: frame.Rows}
		merged.Merge(prev.Frame)
		entry.Frame = merged
		if prev.CoverBegin.Before(entry.CoverBegin) {
			entry.CoverBegin = prev.CoverBegin
		}
		if prev.CoverEnd.After(entry.CoverEnd) {
			entry.CoverEnd = prev.CoverEnd
		}
	}

	pc.frames.Add(key, entry)

	raw, err := json.Marshal(entry)
	if err != nil {
		log.Warn().Err(err).Str("Symbol", frame.Ticker).Msg("could not serialize price frame for shared cache")
		return
	}
	common.CacheSet(key, raw)
}

// Purge drops all cached frames.
func (pc *PriceCache) Purge() {
	pc.frames.Purge()
}

// fundamentalsEntry wraps one cached fundamentals record; FetchedAt on the
// record drives expiry.
type fundamentalsFile struct {
	Records map[string]*Fundamentals `json:"records"`
}

// FundamentalsStore is the disk-persisted fundamentals cache plus the
// persistent company-name and ticker-correction maps. Records expire after a
// long TTL since fundamentals drift slowly.
type FundamentalsStore struct {
	locker      sync.Mutex
	dir         string
	ttl         time.Duration
	records     map[string]*Fundamentals
	names       map[string]string
	corrections map[string]string
}

// NewFundamentalsStore loads the cache directory. Expired records are pruned
// on load; a corrupted file clears that cache rather than failing.
func NewFundamentalsStore() *FundamentalsStore {
	ttl := viper.GetDuration("cache.fundamentals_ttl")
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}

	store := &FundamentalsStore{
		dir:         viper.GetString("cache.directory"),
		ttl:         ttl,
		records:     make(map[string]*Fundamentals),
		names:       make(map[string]string),
		corrections: make(map[string]string),
	}
	store.load()
	return store
}

func (fs *FundamentalsStore) load() {
	if fs.dir == "" {
		return
	}

	parsed := fundamentalsFile{}
	if readJSONFile(filepath.Join(fs.dir, "fundamentals.json"), &parsed) && parsed.Records != nil {
		now := time.Now()
		for ticker, rec := range parsed.Records {
			if rec == nil || now.Sub(rec.FetchedAt) > fs.ttl {
				continue
			}
			fs.records[NormalizeTicker(ticker)] = rec
		}
	}

	names := make(map[string]string)
	if readJSONFile(filepath.Join(fs.dir, "company_names.json"), &names) {
		for ticker, name := range names {
			fs.names[NormalizeTicker(ticker)] = name
		}
	}

	corrections := make(map[string]string)
	if readJSONFile(filepath.Join(fs.dir, "ticker_corrections.json"), &corrections) {
		for from, to := range corrections {
			fs.corrections[NormalizeTicker(from)] = NormalizeTicker(to)
		}
	}
}

// readJSONFile loads path into out, returning false on any failure. Parse
// failures are logged and treated as an empty file.
func readJSONFile(path string, out interface{}) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Warn().Err(err).Str("Path", path).Msg("cache file corrupted; starting empty")
		return false
	}
	return true
}

// Get returns a fresh cached record for the ticker.
func (fs *FundamentalsStore) Get(ticker string) (*Fundamentals, bool) {
	fs.locker.Lock()
	defer fs.locker.Unlock()

	rec, ok := fs.records[NormalizeTicker(ticker)]
	if !ok {
		return nil, false
	}
	if time.Since(rec.FetchedAt) > fs.ttl {
		delete(fs.records, NormalizeTicker(ticker))
		return nil, false
	}
	return rec, true
}

// Put caches a record and remembers its company name, then persists.
func (fs *FundamentalsStore) Put(rec *Fundamentals) {
	fs.locker.Lock()
	defer fs.locker.Unlock()

	ticker := NormalizeTicker(rec.Ticker)
	fs.records[ticker] = rec
	if rec.Company != "" {
		fs.names[ticker] = rec.Company
	}
	fs.persist()
}

// CompanyName returns the remembered company name for a ticker, surviving
// fundamentals expiry.
func (fs *FundamentalsStore) CompanyName(ticker string) (string, bool) {
	fs.locker.Lock()
	defer fs.locker.Unlock()

	name, ok := fs.names[NormalizeTicker(ticker)]
	return name, ok
}

// CorrectTicker maps a historical or misspelled symbol to its current form.
// Unknown symbols pass through normalized.
func (fs *FundamentalsStore) CorrectTicker(ticker string) string {
	fs.locker.Lock()
	defer fs.locker.Unlock()

	normalized := NormalizeTicker(ticker)
	if corrected, ok := fs.corrections[normalized]; ok {
		return corrected
	}
	return normalized
}

// AddCorrection records a persistent symbol correction.
func (fs *FundamentalsStore) AddCorrection(from, to string) {
	fs.locker.Lock()
	defer fs.locker.Unlock()

	fs.corrections[NormalizeTicker(from)] = NormalizeTicker(to)
	fs.persist()
}

// persist writes all three files; caller holds the lock. Failures are logged
// and ignored.
func (fs *FundamentalsStore) persist() {
	if fs.dir == "" {
		return
	}
	if err := os.MkdirAll(fs.dir, 0o755); err != nil {
		log.Warn().Err(err).Str("Dir", fs.dir).Msg("could not create cache directory")
		return
	}

	writeJSONFile(filepath.Join(fs.dir, "fundamentals.json"), fundamentalsFile{Records: fs.records})
	writeJSONFile(filepath.Join(fs.dir, "company_names.json"), fs.names)
	writeJSONFile(filepath.Join(fs.dir, "ticker_corrections.json"), fs.corrections)
}

// writeJSONFile writes to a temp file and renames so readers never see a
// partial file.
func writeJSONFile(path string, value interface{}) {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		log.Warn().Err(err).Str("Path", path).Msg("could not serialize cache file")
		return
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		log.Warn().Err(err).Str("Path", path).Msg("could not write cache file")
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Warn().Err(err).Str("Path", path).Msg("could not replace cache file")
	}
}
