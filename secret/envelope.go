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

package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/alchemy-run/alchemy/errs"
	"github.com/alchemy-run/alchemy/resource"
)

// alg is recorded on every envelope so a future key-rotation or
// algorithm-migration pass can tell which scheme produced it (§4.9).
const alg = "aes-256-gcm"

// Seal walks m and replaces every plaintext Secret with its encrypted
// SecretEnvelope form, leaving everything else untouched. It is the only
// path by which a Secret is allowed to survive being handed to the state
// store (resource/serde.go refuses to marshal one directly).
func Seal(m resource.PropertyMap, key []byte) (resource.PropertyMap, error) {
	if m == nil {
		return nil, nil
	}
	out := make(resource.PropertyMap, len(m))
	for k, v := range m {
		sv, err := sealValue(v, key)
		if err != nil {
			return nil, fmt.Errorf("sealing %q: %w", k, err)
		}
		out[k] = sv
	}
	return out, nil
}

func sealValue(v resource.PropertyValue, key []byte) (resource.PropertyValue, error) {
	switch {
	case v.IsSecret():
		env, err := encrypt(v.SecretValue(), key)
		if err != nil {
			return resource.PropertyValue{}, err
		}
		return resource.NewSecretEnvelopeProperty(*env), nil
	case v.IsArray():
		src := v.ArrayValue()
		out := make([]resource.PropertyValue, len(src))
		for i, el := range src {
			sv, err := sealValue(el, key)
			if err != nil {
				return resource.PropertyValue{}, err
			}
			out[i] = sv
		}
		return resource.NewArrayProperty(out), nil
	case v.IsObject():
		sm, err := Seal(v.ObjectValue(), key)
		if err != nil {
			return resource.PropertyValue{}, err
		}
		return resource.NewObjectProperty(sm), nil
	default:
		return v, nil
	}
}

// Open is the inverse of Seal: every SecretEnvelope becomes a plaintext
// Secret again. Callers must discard the decrypted PropertyMap once the
// provider invocation that needed it returns; it must never itself reach
// the state store (the serde layer will refuse it).
func Open(m resource.PropertyMap, key []byte) (resource.PropertyMap, error) {
	if m == nil {
		return nil, nil
	}
	out := make(resource.PropertyMap, len(m))
	for k, v := range m {
		ov, err := openValue(v, key)
		if err != nil {
			return nil, fmt.Errorf("opening %q: %w", k, err)
		}
		out[k] = ov
	}
	return out, nil
}

func openValue(v resource.PropertyValue, key []byte) (resource.PropertyValue, error) {
	switch {
	case v.IsSecretEnvelope():
		env := v.SecretEnvelopeValue()
		s, err := decrypt(&env, key)
		if err != nil {
			return resource.PropertyValue{}, err
		}
		return resource.NewSecretProperty(s), nil
	case v.IsArray():
		src := v.ArrayValue()
		out := make([]resource.PropertyValue, len(src))
		for i, el := range src {
			ov, err := openValue(el, key)
			if err != nil {
				return resource.PropertyValue{}, err
			}
			out[i] = ov
		}
		return resource.NewArrayProperty(out), nil
	case v.IsObject():
		om, err := Open(v.ObjectValue(), key)
		if err != nil {
			return resource.PropertyValue{}, err
		}
		return resource.NewObjectProperty(om), nil
	default:
		return v, nil
	}
}

// encrypt seals a Secret's plaintext with AES-256-GCM. The plaintext also
// carries the secret's Type tag, so Open can restore it without a
// side-channel.
func encrypt(s *resource.Secret, key []byte) (*resource.SecretEnvelope, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrSecretKeyMissing, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrSecretKeyMissing, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("secret: generating nonce: %w", err)
	}
	plaintext := s.Type + "\x00" + s.Plain
	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return &resource.SecretEnvelope{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Alg:        alg,
	}, nil
}

// decrypt opens a SecretEnvelope back into a plaintext Secret.
func decrypt(env *resource.SecretEnvelope, key []byte) (*resource.Secret, error) {
	if env.Alg != alg {
		return nil, fmt.Errorf("secret: unsupported envelope algorithm %q", env.Alg)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed ciphertext: %s", errs.ErrSerialization, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed nonce: %s", errs.ErrSerialization, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrSecretKeyMissing, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrSecretKeyMissing, err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// A GCM auth failure almost always means the wrong passphrase/key
		// was supplied; surface it as the taxonomy's key-mismatch error.
		return nil, fmt.Errorf("%w: %s", errs.ErrSecretKeyMissing, err)
	}
	for i, b := range plaintext {
		if b == 0 {
			return &resource.Secret{Type: string(plaintext[:i]), Plain: string(plaintext[i+1:])}, nil
		}
	}
	return nil, fmt.Errorf("%w: malformed secret plaintext", errs.ErrSerialization)
}
