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

// Package audio provides wire-format audio helpers and playback progress
// tracking for realtime voice sessions.
package audio

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Format identifies a transport audio encoding.
type Format string

const (
	FormatPCM16    Format = "pcm16"
	FormatG711ULaw Format = "g711_ulaw"
	FormatG711ALaw Format = "g711_alaw"
)

const millisecondsPerSecond = 1000.0

// ParseFormat normalizes a wire-level format string. Unrecognized values
// fall back to PCM16, the protocol default.
func ParseFormat(value string) Format {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "g711_ulaw", "audio/pcmu", "pcmu":
		return FormatG711ULaw
	case "g711_alaw", "audio/pcma", "pcma":
		return FormatG711ALaw
	default:
		return FormatPCM16
	}
}

// SampleRate returns samples per second for the format.
func (f Format) SampleRate() float64 {
	if strings.HasPrefix(string(f), "g711") {
		return 8000.0
	}
	return 24000.0
}

// BytesPerSample returns the sample width in bytes.
func (f Format) BytesPerSample() float64 {
	if strings.HasPrefix(string(f), "g711") {
		return 1.0
	}
	return 2.0
}

// DurationMS computes the playback duration of byteCount bytes of audio.
func (f Format) DurationMS(byteCount int) float64 {
	if byteCount <= 0 {
		return 0
	}
	samples := float64(byteCount) / f.BytesPerSample()
	return samples / f.SampleRate() * millisecondsPerSecond
}

// Base64DecodeError wraps a payload that failed base64 decoding.
type Base64DecodeError struct {
	Err error
}

func (e *Base64DecodeError) Error() string {
	return fmt.Sprintf("invalid base64 audio payload: %v", e.Err)
}

func (e *Base64DecodeError) Unwrap() error { return e.Err }

// EncodeBase64 encodes raw audio bytes for the wire.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes a wire audio payload. Failures surface as a
// *Base64DecodeError rather than a panic.
func DecodeBase64(payload string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &Base64DecodeError{Err: err}
	}
	return data, nil
}
