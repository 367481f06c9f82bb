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

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// ComputeTradeSourceID derives a deterministic ID from the fields that make
// a trade unique. Re-importing the same journal produces the same IDs, which
// is how duplicate imports are detected.
func ComputeTradeSourceID(t *Trade) string {
	h := blake3.New()
	fmt.Fprintf(h, "%s:%s:%s:%s:%s:%d",
		t.Fund,
		t.Ticker,
		t.Action,
		t.Shares.String(),
		t.Price.String(),
		t.Timestamp.UTC().Unix(),
	)
	return hex.EncodeToString(h.Sum(nil))
}
