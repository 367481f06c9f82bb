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

package portfolio

import "errors"

var (
	// ErrValidation marks invalid input: bad trade fields, malformed
	// decimals, unknown fund. No mutation happens when it is returned.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTrade rejects trades with non-positive shares or price.
	ErrInvalidTrade = errors.New("invalid trade")

	// ErrInsufficientShares means a sell asked for more shares than all
	// remaining lots hold.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrInsufficientFunds is advisory only; buys log it but proceed.
	ErrInsufficientFunds = errors.New("insufficient funds")

	ErrNotFound = errors.New("not found")

	// ErrCorrupt marks data the engine cannot trust: duplicate snapshots for
	// a date, derived fields outside tolerance, unsatisfiable historical
	// sells during replay.
	ErrCorrupt = errors.New("data corruption detected")

	ErrRepository = errors.New("repository operation failed")
)
