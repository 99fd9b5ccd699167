// Copyright 2025 Fleetbridge
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package schedule decides, purely from wall-clock time, which recurring
// command frequencies are due and turns each tenant's due command
// definitions into dispatched batches.
package schedule

import "time"

// Frequency names one recurring cadence a command definition can target.
type Frequency string

const (
	Hourly       Frequency = "hourly"
	Every2Hours  Frequency = "every2h"
	Every4Hours  Frequency = "every4h"
	Every6Hours  Frequency = "every6h"
	Every12Hours Frequency = "every12h"
	Daily        Frequency = "daily"
	Weekly       Frequency = "weekly"
)

// dailyHour is the fixed off-peak hour for daily and weekly work.
const dailyHour = 2

// frequencyHours maps each multi-hour cadence to the hours it fires at.
var frequencyHours = map[Frequency][]int{
	Every2Hours:  {0, 2, 4, 6, 8, 10, 12, 14, 16, 18, 20, 22},
	Every4Hours:  {0, 4, 8, 12, 16, 20},
	Every6Hours:  {0, 6, 12, 18},
	Every12Hours: {0, 12},
}

// Valid reports whether f is a known cadence.
func (f Frequency) Valid() bool {
	switch f {
	case Hourly, Every2Hours, Every4Hours, Every6Hours, Every12Hours, Daily, Weekly:
		return true
	}
	return false
}

// DueFrequencies returns the cadences due at the given wall-clock moment.
// Hourly is always due. Daily fires at the off-peak hour, weekly only when
// that hour falls on a Sunday.
func DueFrequencies(now time.Time) []Frequency {
	hour := now.Hour()
	due := []Frequency{Hourly}

	for _, f := range []Frequency{Every2Hours, Every4Hours, Every6Hours, Every12Hours} {
		for _, h := range frequencyHours[f] {
			if h == hour {
				due = append(due, f)
				break
			}
		}
	}

	if hour == dailyHour {
		due = append(due, Daily)
		if now.Weekday() == time.Sunday {
			due = append(due, Weekly)
		}
	}
	return due
}
