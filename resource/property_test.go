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

package resource

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyValueEqual(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b PropertyValue
		want bool
	}{
		{"nulls equal", NewNullProperty(), NewNullProperty(), true},
		{"strings equal", NewStringProperty("hi"), NewStringProperty("hi"), true},
		{"strings differ", NewStringProperty("hi"), NewStringProperty("bye"), false},
		{"numbers equal", NewNumberProperty(1), NewNumberProperty(1), true},
		{
			"objects equal out of order",
			NewObjectProperty(PropertyMap{"a": NewStringProperty("1"), "b": NewStringProperty("2")}),
			NewObjectProperty(PropertyMap{"b": NewStringProperty("2"), "a": NewStringProperty("1")}),
			true,
		},
		{
			"arrays differ by length",
			NewArrayProperty([]PropertyValue{NewStringProperty("a")}),
			NewArrayProperty([]PropertyValue{}),
			false,
		},
		{"type mismatch", NewStringProperty("1"), NewNumberProperty(1), false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
		})
	}
}

func TestPropertyMapCopyIsDeep(t *testing.T) {
	t.Parallel()

	m := PropertyMap{
		"nested": NewObjectProperty(PropertyMap{
			"inner": NewArrayProperty([]PropertyValue{NewStringProperty("a")}),
		}),
	}
	cp := m.Copy()
	require.True(t, m.Equal(cp))

	// Mutate the copy's nested array; the original must be unaffected.
	inner := cp["nested"].ObjectValue()["inner"].ArrayValue()
	inner[0] = NewStringProperty("mutated")

	orig := m["nested"].ObjectValue()["inner"].ArrayValue()
	assert.Equal(t, "a", orig[0].StringValue())
}

func TestHasSecrets(t *testing.T) {
	t.Parallel()

	plain := PropertyMap{"a": NewStringProperty("x")}
	assert.False(t, plain.HasSecrets())

	withSecret := PropertyMap{
		"a": NewObjectProperty(PropertyMap{
			"b": NewSecretProperty(&Secret{Type: "string", Plain: "shh"}),
		}),
	}
	assert.True(t, withSecret.HasSecrets())
}

func TestPropertyValueJSONRoundTrip(t *testing.T) {
	t.Parallel()

	original := PropertyMap{
		"str":   NewStringProperty("hello"),
		"num":   NewNumberProperty(42),
		"bool":  NewBoolProperty(true),
		"null":  NewNullProperty(),
		"array": NewArrayProperty([]PropertyValue{NewStringProperty("x"), NewNumberProperty(1)}),
		"object": NewObjectProperty(PropertyMap{
			"inner": NewStringProperty("v"),
		}),
		"ref": NewResourceRefProperty(ResourceReference{FQN: "app/A", Kind: "test::Echo"}),
		"secretEnvelope": NewSecretEnvelopeProperty(SecretEnvelope{
			Ciphertext: "c3RhdGU=", Nonce: "bm9uY2U=", Alg: "aes-gcm",
		}),
		"asset": NewAssetProperty(&Asset{MimeType: "text/plain", Bytes: []byte("data")}),
	}

	data, err := MarshalProps(original)
	require.NoError(t, err)

	decoded, err := UnmarshalProps(data)
	require.NoError(t, err)

	assert.True(t, original.Equal(decoded), "round trip should be structurally identical: %s", string(data))
}

func TestPropertyValuePlaintextSecretFailsToSerialize(t *testing.T) {
	t.Parallel()

	m := PropertyMap{"apiKey": NewSecretProperty(&Secret{Type: "string", Plain: "sk_123"})}
	_, err := MarshalProps(m)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "sk_123")
}

func TestPropertyValueOutputFailsToSerialize(t *testing.T) {
	t.Parallel()

	m := PropertyMap{"pending": NewOutputProperty(NewOutput("app/A"))}
	_, err := MarshalProps(m)
	require.Error(t, err)
}

func TestSecretEnvelopeNeverLeaksCiphertextAsPlaintextField(t *testing.T) {
	t.Parallel()

	m := PropertyMap{"apiKey": NewSecretEnvelopeProperty(SecretEnvelope{
		Ciphertext: "opaque", Nonce: "n", Alg: "aes-gcm",
	})}
	data, err := MarshalProps(m)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	apiKey := raw["apiKey"].(map[string]any)
	assert.Equal(t, "secret", apiKey["@type"])
	assert.Equal(t, "opaque", apiKey["ciphertext"])
}
