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

package dispatch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the webhook signature as "{unix_ts}.{hex_hmac}".
const SignatureHeader = "X-Webhook-Signature"

// DefaultTolerance bounds how old a signed timestamp may be before the
// signature is rejected as a replay.
const DefaultTolerance = 5 * time.Minute

var (
	ErrSignatureMalformed = errors.New("signature header is malformed")
	ErrSignatureExpired   = errors.New("signature timestamp outside tolerance")
	ErrSignatureMismatch  = errors.New("signature does not match payload")
)

// Signer signs and verifies webhook bodies with HMAC-SHA256 over
// "{unix_ts}.{body}". Both sides of the webhook exchange use it: the
// dispatcher signs outgoing payloads, the callback endpoint verifies
// incoming ones.
type Signer struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewSigner creates a Signer with the default replay tolerance.
func NewSigner(secret string) *Signer {
	return &Signer{
		secret:    []byte(secret),
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
}

// Sign returns the signature header value for a body.
func (s *Signer) Sign(body []byte) string {
	ts := s.now().Unix()
	return fmt.Sprintf("%d.%s", ts, s.compute(ts, body))
}

// Verify checks a signature header against a body. It rejects malformed
// headers, timestamps outside the tolerance window in either direction, and
// signatures that do not match.
func (s *Signer) Verify(header string, body []byte) error {
	tsPart, sigPart, ok := strings.Cut(header, ".")
	if !ok || tsPart == "" || sigPart == "" {
		return ErrSignatureMalformed
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return ErrSignatureMalformed
	}

	age := s.now().Sub(time.Unix(ts, 0))
	if age > s.tolerance || age < -s.tolerance {
		return ErrSignatureExpired
	}

	expected := s.compute(ts, body)
	if !hmac.Equal([]byte(expected), []byte(sigPart)) {
		return ErrSignatureMismatch
	}
	return nil
}

func (s *Signer) compute(ts int64, body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
