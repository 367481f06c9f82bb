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
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Process-wide byte cache shared across funds. Entries are lz4 compressed.
// When cache.redis is enabled a redis tier backs the local LRU so multiple
// processes share warmed price frames; cache failures are never fatal.

var cacheCtx = context.Background()
var rdb *redis.Client
var byteCache *lru.Cache

var ErrCacheMiss = errors.New("cache miss")

func SetupCache() {
	var err error
	if viper.GetBool("cache.redis") {
		opt, err := redis.ParseURL(viper.GetString("cache.redis_url"))
		if err != nil {
			log.Error().Err(err).Msg("could not parse redis URL; continuing without redis")
		} else {
			rdb = redis.NewClient(opt)
		}
	}

	byteCache, err = lru.New(viper.GetInt("cache.local_size"))
	if err != nil {
		log.Panic().Err(err).Msg("could not create LRU cache")
	}
}

func CacheSet(key string, bytes []byte) error {
	if byteCache == nil {
		SetupCache()
	}

	b2, err := Compress(bytes)
	if err != nil {
		return err
	}
	byteCache.Add(key, b2)

	if rdb != nil {
		expires := viper.GetDuration("cache.price_ttl")
		return rdb.Set(cacheCtx, key, b2, expires).Err()
	}
	return nil
}

func CacheGet(key string) ([]byte, error) {
	if byteCache == nil {
		SetupCache()
	}

	if v2, ok := byteCache.Get(key); ok {
		return Decompress(v2.([]byte))
	}

	if rdb != nil {
		expires := viper.GetDuration("cache.price_ttl")
		val, err := rdb.GetEx(cacheCtx, key, expires).Bytes()
		if err != nil {
			return nil, ErrCacheMiss
		}
		return Decompress(val)
	}

	return nil, ErrCacheMiss
}

// CachePurge drops the local tier; used when trades invalidate derived data.
func CachePurge() {
	if byteCache != nil {
		byteCache.Purge()
	}
	if rdb != nil {
		ctx, cancel := context.WithTimeout(cacheCtx, time.Second)
		defer cancel()
		if err := rdb.FlushDB(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("could not flush redis cache")
		}
	}
}
