// Copyright 2025 The NLP Odyssey Authors
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

package audio

import "sync"

type playbackKey struct {
	itemID       string
	contentIndex int
}

// PlaybackState describes current playback progress. All fields are nil when
// nothing is playing.
type PlaybackState struct {
	CurrentItemID       *string
	CurrentContentIndex *int
	ElapsedMS           *float64
}

// PlaybackTracker accumulates how much audio has actually been played, per
// item and content slot. The model generates audio much faster than real-time
// playback, so interruption reporting must be driven by this tracker, not by
// generation progress.
//
// The tracker is fed by the caller's audio player and read by the transport
// on interrupt, so it is safe for concurrent use.
type PlaybackTracker struct {
	mu        sync.Mutex
	format    Format
	current   *playbackKey
	elapsedMS *float64
}

// NewPlaybackTracker creates an empty tracker with the PCM16 default format.
func NewPlaybackTracker() *PlaybackTracker {
	return &PlaybackTracker{format: FormatPCM16}
}

// SetFormat sets the format used when converting played bytes to milliseconds.
func (t *PlaybackTracker) SetFormat(format Format) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.format = format
}

// OnPlayBytes records playback progress in raw bytes.
func (t *PlaybackTracker) OnPlayBytes(itemID string, contentIndex int, played []byte) {
	t.mu.Lock()
	ms := t.format.DurationMS(len(played))
	t.mu.Unlock()
	t.OnPlayMS(itemID, contentIndex, ms)
}

// OnPlayMS records playback progress in milliseconds. Elapsed time only
// accumulates while the (item, slot) pair is unchanged; a new pair resets the
// accumulator to the new increment.
func (t *PlaybackTracker) OnPlayMS(itemID string, contentIndex int, ms float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil || t.current.itemID != itemID || t.current.contentIndex != contentIndex {
		t.current = &playbackKey{itemID: itemID, contentIndex: contentIndex}
		t.elapsedMS = &ms
		return
	}
	if t.elapsedMS == nil {
		t.elapsedMS = &ms
		return
	}
	updated := *t.elapsedMS + ms
	t.elapsedMS = &updated
}

// OnInterrupted unconditionally clears both the current item and the elapsed
// accumulator.
func (t *PlaybackTracker) OnInterrupted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = nil
	t.elapsedMS = nil
}

// State returns a snapshot of current playback progress.
func (t *PlaybackTracker) State() PlaybackState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil || t.elapsedMS == nil {
		return PlaybackState{}
	}
	itemID := t.current.itemID
	contentIndex := t.current.contentIndex
	elapsed := *t.elapsedMS
	return PlaybackState{
		CurrentItemID:       &itemID,
		CurrentContentIndex: &contentIndex,
		ElapsedMS:           &elapsed,
	}
}
