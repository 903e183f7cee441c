// Copyright 2023 LiveKit, Inc.
//
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

package utils

import (
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

type StopwatchSplit struct {
	Label    string
	Duration time.Duration
}

// Stopwatch records labelled marks, e.g. the phases of a signal connection.
// It can be passed directly as a log value.
type Stopwatch struct {
	lock   sync.Mutex
	start  time.Time
	last   time.Time
	splits []StopwatchSplit
}

func NewStopwatch() *Stopwatch {
	now := time.Now()
	return &Stopwatch{
		start: now,
		last:  now,
	}
}

// Mark records the time since the previous mark under label.
func (s *Stopwatch) Mark(label string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	now := time.Now()
	s.splits = append(s.splits, StopwatchSplit{Label: label, Duration: now.Sub(s.last)})
	s.last = now
}

func (s *Stopwatch) Splits() []StopwatchSplit {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]StopwatchSplit(nil), s.splits...)
}

// Elapsed is the time from creation to the last mark.
func (s *Stopwatch) Elapsed() time.Duration {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.last.Sub(s.start)
}

func (s *Stopwatch) MarshalLogObject(e zapcore.ObjectEncoder) error {
	for _, split := range s.Splits() {
		e.AddDuration(split.Label, split.Duration)
	}
	e.AddDuration("total", s.Elapsed())
	return nil
}
