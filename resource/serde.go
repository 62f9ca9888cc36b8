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
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/alchemy-run/alchemy/errs"
)

// wireValue is the on-the-wire shape of a PropertyValue: primitives pass
// through untouched, everything else is a tagged envelope (§4.8).
type wireValue struct {
	Type string          `json:"@type,omitempty"`
	FQN  FQN             `json:"fqn,omitempty"`
	Kind Kind            `json:"kind,omitempty"`
	MIME string          `json:"mimeType,omitempty"`
	Data string          `json:"data,omitempty"`
	Cipher string        `json:"ciphertext,omitempty"`
	Nonce  string        `json:"nonce,omitempty"`
	Alg    string        `json:"alg,omitempty"`
	Items  []PropertyValue `json:"items,omitempty"`
	Object PropertyMap     `json:"object,omitempty"`
}

// MarshalJSON implements the §4.8 serde walk for a single node.
func (v PropertyValue) MarshalJSON() ([]byte, error) {
	switch {
	case v.IsNull():
		return []byte("null"), nil
	case v.IsBool():
		return json.Marshal(v.BoolValue())
	case v.IsNumber():
		return json.Marshal(v.NumberValue())
	case v.IsString():
		return json.Marshal(v.StringValue())
	case v.IsArray():
		return json.Marshal(v.ArrayValue())
	case v.IsObject():
		return json.Marshal(v.ObjectValue())
	case v.IsResourceReference():
		ref := v.ResourceReferenceValue()
		return json.Marshal(wireValue{Type: "resource-ref", FQN: ref.FQN, Kind: ref.Kind})
	case v.IsAsset():
		a := v.AssetValue()
		return json.Marshal(wireValue{Type: "asset", MIME: a.MimeType, Data: base64.StdEncoding.EncodeToString(a.Bytes)})
	case v.IsSecretEnvelope():
		e := v.SecretEnvelopeValue()
		return json.Marshal(wireValue{Type: "secret", Cipher: e.Ciphertext, Nonce: e.Nonce, Alg: e.Alg})
	case v.IsSecret():
		// Invariant: never serialize a Secret in plaintext. Callers must
		// run props/output through package secret's Seal before
		// persisting (§4.9).
		return nil, fmt.Errorf("%w: plaintext secret reached serialization; call secret.Seal first", errs.ErrSerialization)
	case v.IsOutput():
		return nil, fmt.Errorf("%w: unresolved dependency reached serialization; the Runner must Await it first", errs.ErrSerialization)
	default:
		return nil, fmt.Errorf("%w: unsupported value of type %T", errs.ErrSerialization, v.V)
	}
}

// UnmarshalJSON implements the inverse of MarshalJSON.
func (v *PropertyValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %s", errs.ErrSerialization, err)
	}
	pv, err := fromAny(raw, data)
	if err != nil {
		return err
	}
	*v = pv
	return nil
}

// fromAny converts a generically-decoded JSON value into a PropertyValue,
// recognizing the tagged-envelope shapes produced by MarshalJSON. raw is
// the already-decoded `any` (used to detect plain primitives/arrays
// cheaply); data is the original bytes (used to re-decode envelopes with
// their strongly typed fields, since map[string]any loses FQN/Kind types).
func fromAny(raw any, data []byte) (PropertyValue, error) {
	switch x := raw.(type) {
	case nil:
		return NewNullProperty(), nil
	case bool:
		return NewBoolProperty(x), nil
	case float64:
		return NewNumberProperty(x), nil
	case string:
		return NewStringProperty(x), nil
	case []any:
		var items []PropertyValue
		if err := json.Unmarshal(data, &items); err != nil {
			return PropertyValue{}, fmt.Errorf("%w: %s", errs.ErrSerialization, err)
		}
		return NewArrayProperty(items), nil
	case map[string]any:
		if tag, ok := x["@type"].(string); ok {
			return fromEnvelope(tag, data)
		}
		var obj PropertyMap
		if err := json.Unmarshal(data, &obj); err != nil {
			return PropertyValue{}, fmt.Errorf("%w: %s", errs.ErrSerialization, err)
		}
		return NewObjectProperty(obj), nil
	default:
		return PropertyValue{}, fmt.Errorf("%w: unrecognized JSON value", errs.ErrSerialization)
	}
}

func fromEnvelope(tag string, data []byte) (PropertyValue, error) {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return PropertyValue{}, fmt.Errorf("%w: %s", errs.ErrSerialization, err)
	}
	switch tag {
	case "resource-ref":
		return NewResourceRefProperty(ResourceReference{FQN: w.FQN, Kind: w.Kind}), nil
	case "asset":
		b, err := base64.StdEncoding.DecodeString(w.Data)
		if err != nil {
			return PropertyValue{}, fmt.Errorf("%w: %s", errs.ErrSerialization, err)
		}
		return NewAssetProperty(&Asset{MimeType: w.MIME, Bytes: b}), nil
	case "secret":
		return NewSecretEnvelopeProperty(SecretEnvelope{Ciphertext: w.Cipher, Nonce: w.Nonce, Alg: w.Alg}), nil
	default:
		return PropertyValue{}, fmt.Errorf("%w: unknown envelope @type %q", errs.ErrSerialization, tag)
	}
}

// MarshalProps is a convenience wrapper used by the state store: it
// serializes a whole PropertyMap, translating SerializationError
// consistently with individual-value marshaling.
func MarshalProps(m PropertyMap) ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	return json.Marshal(m)
}

// UnmarshalProps is the inverse of MarshalProps.
func UnmarshalProps(data []byte) (PropertyMap, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var m PropertyMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrSerialization, err)
	}
	return m, nil
}
