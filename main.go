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

package main

import (
	"errors"
	"fmt"

	"github.com/fundfolio/ff-api/cmd"
	"github.com/spf13/viper"
)

func configureViper() {
	viper.SetConfigName("config")
	viper.SetConfigType("toml")
	viper.AddConfigPath("/etc/fundfolio/")
	viper.AddConfigPath("$HOME/.config/fundfolio")
	viper.AddConfigPath(".")

	viper.SetDefault("cache.local_size", 64)
	viper.SetDefault("cache.price_ttl", "15m")
	viper.SetDefault("cache.fundamentals_ttl", "12h")
	viper.SetDefault("cache.directory", ".ffapi-cache")
	viper.SetDefault("journal.funds_file", "funds.toml")

	err := viper.ReadInConfig()
	if err != nil {
		// a missing config file is fine; flags and env vars still apply
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}
}

func main() {
	configureViper()
	cmd.Execute()
}
