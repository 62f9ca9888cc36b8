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
	"fmt"
	"sort"

	"github.com/mitchellh/copystructure"
)

// PropertyValue is a single node in the value tree the engine serializes:
// props, provider output, and state all bottom out in PropertyValues. The
// representation mirrors the shape props actually take on the wire (a
// small tagged union), rather than Go's native `any`, so that Secret and
// ResourceReference nodes stay distinguishable through a serialize/
// deserialize round trip.
type PropertyValue struct {
	V any
}

// ResourceReference is a tagged reference to another resource instance,
// serialized as {@type: "resource-ref", fqn, kind}. Nothing converts a
// resource handle (*Output) into one; a handle in props is awaited and
// replaced by its resolved value instead. Deserialization returns the
// reference itself: it is not resolved to the referenced resource's output.
type ResourceReference struct {
	FQN  FQN
	Kind Kind
}

// Asset is the typed envelope used for binary/date-like values that are
// not plain JSON primitives (§4.8: "Date/binary: typed envelope").
type Asset struct {
	MimeType string
	Bytes    []byte
}

// Secret is the in-memory (plaintext) form of a sensitive value. It is
// never serialized in plaintext; see package secret for the encrypted
// envelope form. The type tag records what the plaintext represents so a
// rotated/re-read value can validate it hasn't been coerced across types.
type Secret struct {
	Type  string
	Plain string
}

// SecretEnvelope is the encrypted-at-rest form a Secret takes once sealed
// by package secret (§4.8, §4.9, §6.2). Unlike *Secret, an envelope is
// safe to serialize: it carries no plaintext.
type SecretEnvelope struct {
	Ciphertext string
	Nonce      string
	Alg        string
}

func NewNullProperty() PropertyValue                    { return PropertyValue{V: nil} }
func NewBoolProperty(v bool) PropertyValue               { return PropertyValue{V: v} }
func NewNumberProperty(v float64) PropertyValue          { return PropertyValue{V: v} }
func NewStringProperty(v string) PropertyValue           { return PropertyValue{V: v} }
func NewArrayProperty(v []PropertyValue) PropertyValue   { return PropertyValue{V: v} }
func NewObjectProperty(v PropertyMap) PropertyValue      { return PropertyValue{V: v} }
func NewSecretProperty(v *Secret) PropertyValue          { return PropertyValue{V: v} }
func NewAssetProperty(v *Asset) PropertyValue            { return PropertyValue{V: v} }
func NewResourceRefProperty(v ResourceReference) PropertyValue {
	return PropertyValue{V: v}
}

// NewOutputProperty wraps a not-yet-resolved dependency so it can be
// embedded in another resource's props. The Runner awaits it and
// substitutes the resolved value before invoking the provider, so a value
// in this shape is never persisted (serializing one is an error).
func NewOutputProperty(o *Output) PropertyValue { return PropertyValue{V: o} }

func (v PropertyValue) IsNull() bool {
	return v.V == nil
}

func (v PropertyValue) IsBool() bool   { _, ok := v.V.(bool); return ok }
func (v PropertyValue) IsNumber() bool { _, ok := v.V.(float64); return ok }
func (v PropertyValue) IsString() bool { _, ok := v.V.(string); return ok }
func (v PropertyValue) IsArray() bool  { _, ok := v.V.([]PropertyValue); return ok }
func (v PropertyValue) IsObject() bool { _, ok := v.V.(PropertyMap); return ok }
func (v PropertyValue) IsSecret() bool { _, ok := v.V.(*Secret); return ok }
func (v PropertyValue) IsAsset() bool  { _, ok := v.V.(*Asset); return ok }
func (v PropertyValue) IsOutput() bool { _, ok := v.V.(*Output); return ok }
func (v PropertyValue) IsSecretEnvelope() bool {
	_, ok := v.V.(SecretEnvelope)
	return ok
}
func (v PropertyValue) IsResourceReference() bool {
	_, ok := v.V.(ResourceReference)
	return ok
}

func (v PropertyValue) BoolValue() bool            { return v.V.(bool) }
func (v PropertyValue) NumberValue() float64       { return v.V.(float64) }
func (v PropertyValue) StringValue() string        { return v.V.(string) }
func (v PropertyValue) ArrayValue() []PropertyValue { return v.V.([]PropertyValue) }
func (v PropertyValue) ObjectValue() PropertyMap    { return v.V.(PropertyMap) }
func (v PropertyValue) SecretValue() *Secret        { return v.V.(*Secret) }
func (v PropertyValue) AssetValue() *Asset          { return v.V.(*Asset) }
func (v PropertyValue) OutputValue() *Output        { return v.V.(*Output) }
func (v PropertyValue) SecretEnvelopeValue() SecretEnvelope {
	return v.V.(SecretEnvelope)
}
func NewSecretEnvelopeProperty(e SecretEnvelope) PropertyValue { return PropertyValue{V: e} }
func (v PropertyValue) ResourceReferenceValue() ResourceReference {
	return v.V.(ResourceReference)
}

// HasSecrets reports whether v or any of its descendants is a secret.
func (v PropertyValue) HasSecrets() bool {
	switch {
	case v.IsSecret(), v.IsSecretEnvelope():
		return true
	case v.IsArray():
		for _, el := range v.ArrayValue() {
			if el.HasSecrets() {
				return true
			}
		}
		return false
	case v.IsObject():
		return v.ObjectValue().HasSecrets()
	default:
		return false
	}
}

// PropertyMap is an ordered-by-key bag of PropertyValues; it is the shape
// resource props, provider output, and persisted state all take.
type PropertyMap map[string]PropertyValue

// StableKeys returns m's keys in sorted order, for deterministic
// iteration (diffing, serialization, dependency walks).
func (m PropertyMap) StableKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m PropertyMap) HasSecrets() bool {
	for _, v := range m {
		if v.HasSecrets() {
			return true
		}
	}
	return false
}

// Copy deep-copies m, matching resource.State.Copy() usage seen throughout
// pkg/resource/deploy/step_test.go ("state.Copy()"). It recurses through
// arrays and objects itself so that *Output dependency placeholders keep
// their pointer identity across the copy (an Output is a shared future,
// not a value to clone); leaf pointer structs (Secret, Asset) are cloned
// with the teacher's deep-copy dependency, mitchellh/copystructure.
func (m PropertyMap) Copy() PropertyMap {
	if m == nil {
		return nil
	}
	out := make(PropertyMap, len(m))
	for k, v := range m {
		out[k] = v.Copy()
	}
	return out
}

// Copy deep-copies a single PropertyValue, recursing into arrays/objects.
func (v PropertyValue) Copy() PropertyValue {
	switch {
	case v.IsArray():
		src := v.ArrayValue()
		out := make([]PropertyValue, len(src))
		for i, el := range src {
			out[i] = el.Copy()
		}
		return NewArrayProperty(out)
	case v.IsObject():
		return NewObjectProperty(v.ObjectValue().Copy())
	case v.IsSecret():
		cp, err := copystructure.Copy(v.SecretValue())
		if err != nil {
			panic(fmt.Sprintf("resource: copying secret value: %v", err))
		}
		return NewSecretProperty(cp.(*Secret))
	case v.IsAsset():
		cp, err := copystructure.Copy(v.AssetValue())
		if err != nil {
			panic(fmt.Sprintf("resource: copying asset value: %v", err))
		}
		return NewAssetProperty(cp.(*Asset))
	default:
		return v
	}
}

// Equal reports deep, order-independent structural equality. Equal inputs
// are exactly the condition the Runner/Planner use to decide `skip` vs
// `update` (§4.4 step 4, §4.5 action mapping).
func (v PropertyValue) Equal(other PropertyValue) bool {
	switch {
	case v.IsNull() && other.IsNull():
		return true
	case v.IsBool() && other.IsBool():
		return v.BoolValue() == other.BoolValue()
	case v.IsNumber() && other.IsNumber():
		return v.NumberValue() == other.NumberValue()
	case v.IsString() && other.IsString():
		return v.StringValue() == other.StringValue()
	case v.IsArray() && other.IsArray():
		a, b := v.ArrayValue(), other.ArrayValue()
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].Equal(b[i]) {
				return false
			}
		}
		return true
	case v.IsObject() && other.IsObject():
		return v.ObjectValue().Equal(other.ObjectValue())
	case v.IsSecret() && other.IsSecret():
		a, b := v.SecretValue(), other.SecretValue()
		return a.Type == b.Type && a.Plain == b.Plain
	case v.IsAsset() && other.IsAsset():
		a, b := v.AssetValue(), other.AssetValue()
		return a.MimeType == b.MimeType && string(a.Bytes) == string(b.Bytes)
	case v.IsResourceReference() && other.IsResourceReference():
		return v.ResourceReferenceValue() == other.ResourceReferenceValue()
	case v.IsSecretEnvelope() && other.IsSecretEnvelope():
		return v.SecretEnvelopeValue() == other.SecretEnvelopeValue()
	default:
		return false
	}
}

// Equal reports deep structural equality between two maps.
func (m PropertyMap) Equal(other PropertyMap) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

func (v PropertyValue) String() string {
	switch {
	case v.IsNull():
		return "<null>"
	case v.IsSecret():
		return "[secret]"
	case v.IsOutput():
		return "[output]"
	default:
		return fmt.Sprintf("%v", v.V)
	}
}
