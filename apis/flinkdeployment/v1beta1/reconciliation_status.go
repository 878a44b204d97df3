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

import "fmt"

// IsBeforeFirstDeployment tells whether nothing was reconciled yet.
func (s *ReconciliationStatus) IsBeforeFirstDeployment() bool {
	return s.LastReconciledSpec == ""
}

// SerializeAndSetLastReconciledSpec replaces the reconciled spec. The
// previous envelope stays in place until the new one is fully encoded.
func (s *ReconciliationStatus) SerializeAndSetLastReconciledSpec(spec any, meta *ReconciliationMetadata) {
	envelope := WriteSpecWithMeta(spec, meta)
	s.LastReconciledSpec = envelope
}

// MarkReconciledSpecAsStable copies the reconciled spec into the stable spec.
// Returns false when it was already stable.
func (s *ReconciliationStatus) MarkReconciledSpecAsStable() bool {
	if s.IsStable() {
		return false
	}
	s.LastStableSpec = s.LastReconciledSpec
	return true
}

// IsStable tells whether the reconciled spec is also the rollback target.
func (s *ReconciliationStatus) IsStable() bool {
	return s.LastReconciledSpec != "" && s.LastReconciledSpec == s.LastStableSpec
}

// GetLastReconciledSpec decodes the reconciled envelope.
func GetLastReconciledSpec[T any](s *ReconciliationStatus) (*T, *ReconciliationMetadata, error) {
	return DeserializeSpecWithMeta[T](s.LastReconciledSpec)
}

// GetLastStableSpec decodes the stable envelope.
func GetLastStableSpec[T any](s *ReconciliationStatus) (*T, *ReconciliationMetadata, error) {
	return DeserializeSpecWithMeta[T](s.LastStableSpec)
}

// GetDeployedSpec returns the spec currently running on the cluster: the
// stable spec after a rollback, the reconciled spec otherwise.
func GetDeployedSpec[T any](s *ReconciliationStatus) (*T, error) {
	var spec *T
	var err error
	if s.State == ReconciliationStateRolledBack {
		spec, _, err = GetLastStableSpec[T](s)
	} else {
		spec, _, err = GetLastReconciledSpec[T](s)
	}
	return spec, err
}

// SetReconciledSavepointTriggerNonce records the nonce as processed in the
// reconciled spec of the resource. A stable reconciled spec stays stable.
func SetReconciledSavepointTriggerNonce(resource FlinkResource, nonce *int64) error {
	update := func(job *JobSpec) { job.SavepointTriggerNonce = nonce }
	status := &resource.GetCommonStatus().ReconciliationStatus
	switch resource.GetKind() {
	case KindFlinkDeployment:
		return updateReconciledJob(status, func(s *FlinkDeploymentSpec) *JobSpec { return s.Job }, update)
	case KindFlinkSessionJob:
		return updateReconciledJob(status, func(s *FlinkSessionJobSpec) *JobSpec { return s.Job }, update)
	}
	return fmt.Errorf("unsupported resource kind %q", resource.GetKind())
}

func updateReconciledJob[T any](
	status *ReconciliationStatus, jobOf func(*T) *JobSpec, update func(*JobSpec)) error {
	spec, meta, err := GetLastReconciledSpec[T](status)
	if err != nil {
		return err
	}
	if spec == nil || jobOf(spec) == nil {
		return nil
	}
	wasStable := status.IsStable()
	update(jobOf(spec))
	status.SerializeAndSetLastReconciledSpec(spec, meta)
	if wasStable {
		status.LastStableSpec = status.LastReconciledSpec
	}
	return nil
}
