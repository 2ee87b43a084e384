/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package duration parses human-readable time-to-live strings such as
// "30m", "2h30m" or "1d". The grammar is (<integer><unit>)+ with units
// d, h, m and s; repeated units are summed. Floating values, signs and
// whitespace are rejected.
package duration

import (
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

var tokenRe = regexp.MustCompile(`(\d+)([dhms])`)

var unitSeconds = map[string]int64{
	"d": 86400,
	"h": 3600,
	"m": 60,
	"s": 1,
}

// Parse converts a time-to-live string into a time.Duration.
func Parse(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("empty duration")
	}

	tokens := tokenRe.FindAllStringSubmatch(s, -1)
	if len(tokens) == 0 {
		return 0, errors.Errorf("invalid duration format: %q", s)
	}

	// Tokens must cover the whole input; anything left over (signs,
	// decimals, whitespace, stray characters) makes the string invalid.
	matched := ""
	for _, tok := range tokens {
		matched += tok[0]
	}
	if matched != s {
		return 0, errors.Errorf("invalid duration format: %q", s)
	}

	var total int64
	for _, tok := range tokens {
		value, err := strconv.ParseInt(tok[1], 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "invalid duration value %q", tok[1])
		}
		total += value * unitSeconds[tok[2]]
	}
	return time.Duration(total) * time.Second, nil
}
