/*
Copyright 2019 Google LLC.

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

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Configuration is an effective Flink configuration.
type Configuration map[string]string

// Clone returns an independent copy.
func (c Configuration) Clone() Configuration {
	out := make(Configuration, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

func (c Configuration) GetString(key string, def string) string {
	if v, ok := c[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (c Configuration) GetBool(key string, def bool) (bool, error) {
	v := c.GetString(key, "")
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid boolean for %s: %q", key, v)
	}
	return b, nil
}

func (c Configuration) GetInt(key string, def int) (int, error) {
	v := c.GetString(key, "")
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid integer for %s: %q", key, v)
	}
	return i, nil
}

// GetDuration reads a duration in the Flink notation, e.g. `10 min`, `30s`
// or `500` (milliseconds).
func (c Configuration) GetDuration(key string, def time.Duration) (time.Duration, error) {
	v := c.GetString(key, "")
	if v == "" {
		return def, nil
	}
	d, err := ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

// IsHAEnabled tells whether high availability services are configured.
func (c Configuration) IsHAEnabled() bool {
	ha := c.GetString(HighAvailability, "")
	return ha != "" && !strings.EqualFold(ha, HighAvailabilityNone)
}

// IsReactiveMode tells whether the adaptive scheduler runs in reactive mode.
func (c Configuration) IsReactiveMode() bool {
	return strings.EqualFold(c.GetString(SchedulerMode, ""), SchedulerModeReactive)
}

// IsAdaptiveScheduler tells whether the job manager uses the adaptive
// scheduler, either explicitly or through reactive mode.
func (c Configuration) IsAdaptiveScheduler() bool {
	return strings.EqualFold(c.GetString(JobManagerScheduler, ""), SchedulerAdaptive) || c.IsReactiveMode()
}

var durationUnits = map[string]time.Duration{
	"":             time.Millisecond,
	"ms":           time.Millisecond,
	"milli":        time.Millisecond,
	"millis":       time.Millisecond,
	"millisecond":  time.Millisecond,
	"milliseconds": time.Millisecond,
	"s":            time.Second,
	"sec":          time.Second,
	"secs":         time.Second,
	"second":       time.Second,
	"seconds":      time.Second,
	"m":            time.Minute,
	"min":          time.Minute,
	"mins":         time.Minute,
	"minute":       time.Minute,
	"minutes":      time.Minute,
	"h":            time.Hour,
	"hour":         time.Hour,
	"hours":        time.Hour,
	"d":            24 * time.Hour,
	"day":          24 * time.Hour,
	"days":         24 * time.Hour,
}

// ParseDuration parses a duration in the Flink notation.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
	number, unit := s, ""
	if i >= 0 {
		number, unit = s[:i], strings.ToLower(strings.TrimSpace(s[i:]))
	}
	if number == "" {
		return 0, fmt.Errorf("missing number in %q", s)
	}
	n, err := strconv.ParseInt(number, 10, 64)
	if err != nil {
		return 0, err
	}
	multiplier, ok := durationUnits[unit]
	if !ok {
		return 0, fmt.Errorf("unknown time unit %q", unit)
	}
	return time.Duration(n) * multiplier, nil
}
