/*
Copyright 2019 Google LLC.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1beta1

import (
	"encoding/json"
	"fmt"
)

// Reserved envelope keys.
const (
	specKey             = "spec"
	resourceMetadataKey = "resource_metadata"
	legacyAPIVersionKey = "apiVersion"
)

// SerializationError reports a stored envelope that cannot be decoded.
type SerializationError struct {
	Envelope string
	Err      error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("could not deserialize spec envelope: %v", e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

type specWithMeta struct {
	Spec     any                     `json:"spec"`
	Metadata *ReconciliationMetadata `json:"resource_metadata"`
}

// WriteSpecWithMeta encodes the spec and its metadata into one envelope.
// Specs are plain API structs, so a marshal error is a programming error.
func WriteSpecWithMeta(spec any, meta *ReconciliationMetadata) string {
	out, err := json.Marshal(&specWithMeta{Spec: spec, Metadata: meta})
	if err != nil {
		panic(fmt.Sprintf("could not serialize spec: %v", err))
	}
	return string(out)
}

// DeserializeSpecWithMeta decodes an envelope written by WriteSpecWithMeta.
//
// Envelopes written before metadata was tracked hold the bare spec, possibly
// with a stray `apiVersion` field. Those decode with nil metadata. An empty
// envelope decodes to nil without error.
func DeserializeSpecWithMeta[T any](envelope string) (*T, *ReconciliationMetadata, error) {
	if envelope == "" || envelope == "null" {
		return nil, nil, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(envelope), &fields); err != nil {
		return nil, nil, &SerializationError{Envelope: envelope, Err: err}
	}

	if rawMeta, ok := fields[resourceMetadataKey]; ok {
		var spec T
		if err := json.Unmarshal(fields[specKey], &spec); err != nil {
			return nil, nil, &SerializationError{Envelope: envelope, Err: err}
		}
		var meta *ReconciliationMetadata
		if err := json.Unmarshal(rawMeta, &meta); err != nil {
			return nil, nil, &SerializationError{Envelope: envelope, Err: err}
		}
		return &spec, meta, nil
	}

	delete(fields, legacyAPIVersionKey)
	migrated, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, &SerializationError{Envelope: envelope, Err: err}
	}
	var spec T
	if err := json.Unmarshal(migrated, &spec); err != nil {
		return nil, nil, &SerializationError{Envelope: envelope, Err: err}
	}
	return &spec, nil, nil
}
