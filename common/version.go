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

import "fmt"

// Version represents a SemVer 2.0.0 compatible build version
type Version struct {
	Major  int
	Minor  int
	Patch  int
	Suffix string
}

var CurrentVersion = Version{
	Major: 0,
	Minor: 9,
	Patch: 0,
}

func (v Version) String() string {
	preRelease := ""
	if v.Suffix != "" {
		preRelease = fmt.Sprintf("-%s", v.Suffix)
	}
	return fmt.Sprintf("%d.%d.%d%s", v.Major, v.Minor, v.Patch, preRelease)
}
