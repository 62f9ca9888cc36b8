// Copyright 2016-2025, Pulumi Corporation.
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

// Package secret implements §4.9: deriving a symmetric key from a
// user-supplied passphrase, sealing/opening Secret values in a
// PropertyMap tree, and rotating the key across an entire scope's state.
package secret

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	// KeyLen is the AES-256 key size sealed envelopes are encrypted with.
	KeyLen = 32

	// scryptN/R/P are the fixed KDF cost parameters (§4.9: "fixed
	// iteration count"). N=2^15 keeps interactive derivation under ~100ms
	// on typical hardware while remaining expensive to brute force.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// SaltLen is the length of the per-install salt that must accompany a
// passphrase through DeriveKey.
const SaltLen = 16

// NewSalt generates a fresh per-install salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a 32-byte symmetric key from passphrase and salt using
// scrypt with fixed cost parameters, per §4.9.
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	if len(salt) == 0 {
		return nil, fmt.Errorf("secret: salt must not be empty")
	}
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, KeyLen)
	if err != nil {
		return nil, fmt.Errorf("secret: deriving key: %w", err)
	}
	return key, nil
}
