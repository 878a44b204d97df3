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

package flinkdeployment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	v1beta1 "github.com/spotify/flink-deployment-operator/apis/flinkdeployment/v1beta1"
	"github.com/spotify/flink-deployment-operator/internal/config"
	"github.com/spotify/flink-deployment-operator/internal/flink"
	"github.com/spotify/flink-deployment-operator/internal/util"
)

type triggerState string

const (
	triggerStateIdle       triggerState = "idle"
	triggerStateTriggering triggerState = "triggering"
	triggerStateInProgress triggerState = "in_progress"
)

// TriggerRequest is a savepoint the trigger manager decided to take.
type TriggerRequest struct {
	Type  v1beta1.SavepointTriggerType
	Nonce *int64
}

// SavepointTriggerManager owns the savepoint trigger bookkeeping kept in
// SavepointInfo.
type SavepointTriggerManager struct {
	flinkService flink.Service
	clock        util.Clock
	log          logr.Logger
}

func NewSavepointTriggerManager(flinkService flink.Service, clock util.Clock, log logr.Logger) *SavepointTriggerManager {
	return &SavepointTriggerManager{flinkService: flinkService, clock: clock, log: log}
}

func getTriggerState(info *v1beta1.SavepointInfo) triggerState {
	switch {
	case info.TriggerID == "":
		return triggerStateIdle
	case info.TriggerRequestID == "":
		return triggerStateTriggering
	default:
		return triggerStateInProgress
	}
}

// SavepointInProgress tells whether a trigger was emitted and not yet
// completed or reset.
func SavepointInProgress(info *v1beta1.SavepointInfo) bool {
	return getTriggerState(info) != triggerStateIdle
}

// EvaluateTrigger decides whether a savepoint must be taken for the job.
// Manual triggers win over periodic ones. Nothing is triggered while another
// trigger is pending, unless forceIgnorePending is set.
func (m *SavepointTriggerManager) EvaluateTrigger(
	status *v1beta1.CommonStatus,
	desired *v1beta1.JobSpec,
	lastProcessedNonce *int64,
	periodicInterval time.Duration,
	forceIgnorePending bool) *TriggerRequest {
	var info = &status.JobStatus.SavepointInfo
	if desired == nil || !v1beta1.IsJobRunning(&status.JobStatus) {
		return nil
	}
	if SavepointInProgress(info) && !forceIgnorePending {
		return nil
	}

	if nonce := desired.SavepointTriggerNonce; nonce != nil &&
		(lastProcessedNonce == nil || *nonce != *lastProcessedNonce) {
		return &TriggerRequest{Type: v1beta1.SavepointTriggerTypeManual, Nonce: nonce}
	}

	if periodicInterval > 0 {
		var since = status.ReconciliationStatus.ReconciliationTimestamp
		if info.LastSavepoint != nil && info.LastSavepoint.TimeStamp > since {
			since = info.LastSavepoint.TimeStamp
		}
		if info.LastPeriodicSavepointTimestamp > since {
			since = info.LastPeriodicSavepointTimestamp
		}
		if m.clock.Now().Sub(time.UnixMilli(since)) >= periodicInterval {
			return &TriggerRequest{Type: v1beta1.SavepointTriggerTypePeriodic}
		}
	}
	return nil
}

// Trigger asks the runtime for a savepoint and records the trigger as in
// progress under the next trigger id.
func (m *SavepointTriggerManager) Trigger(
	ctx context.Context, status *v1beta1.CommonStatus, request *TriggerRequest, conf config.Configuration) error {
	var info = &status.JobStatus.SavepointInfo
	var jobID = status.JobStatus.JobID

	info.TriggerID = fmt.Sprintf("trigger_%d", info.TriggerCount)
	info.TriggerCount++
	info.TriggerRequestID = ""
	info.TriggerType = request.Type
	info.TriggerNonce = request.Nonce
	info.TriggerTimestamp = m.clock.NowMillis()

	requestID, err := m.flinkService.TriggerSavepoint(ctx, jobID, conf)
	if err != nil {
		m.ResetTrigger(info)
		return transient("trigger savepoint", err)
	}
	info.TriggerRequestID = requestID
	savepointTriggers.WithLabelValues(string(request.Type)).Inc()
	m.log.Info("Triggered savepoint", "jobID", jobID, "triggerID", info.TriggerID, "type", request.Type)
	return nil
}

// CompleteTrigger records the savepoint of the in-flight trigger. A manual
// trigger also marks its nonce as processed in the reconciled spec.
func (m *SavepointTriggerManager) CompleteTrigger(
	resource v1beta1.FlinkResource, location string, historyMaxCount int) error {
	var info = &resource.GetCommonStatus().JobStatus.SavepointInfo
	var savepoint = v1beta1.Savepoint{
		TimeStamp:   m.clock.NowMillis(),
		Location:    location,
		TriggerType: info.TriggerType,
	}
	var nonce = info.TriggerNonce
	var triggerType = info.TriggerType

	RecordSavepoint(info, savepoint, historyMaxCount)
	savepointResults.WithLabelValues("completed").Inc()
	if triggerType == v1beta1.SavepointTriggerTypePeriodic {
		info.LastPeriodicSavepointTimestamp = savepoint.TimeStamp
	}
	m.ResetTrigger(info)

	if triggerType == v1beta1.SavepointTriggerTypeManual {
		return v1beta1.SetReconciledSavepointTriggerNonce(resource, nonce)
	}
	return nil
}

// ResetTrigger clears the in-flight trigger without recording a result.
func (m *SavepointTriggerManager) ResetTrigger(info *v1beta1.SavepointInfo) {
	info.TriggerID = ""
	info.TriggerRequestID = ""
	info.TriggerType = ""
	info.TriggerNonce = nil
	info.TriggerTimestamp = 0
}

// RecordSavepoint makes the savepoint the latest one of the job and trims the
// history to historyMaxCount entries.
func RecordSavepoint(info *v1beta1.SavepointInfo, savepoint v1beta1.Savepoint, historyMaxCount int) {
	info.LastSavepoint = &savepoint
	info.SavepointHistory = append(info.SavepointHistory, savepoint)
	if historyMaxCount > 0 {
		info.SavepointHistory = util.TrimHistory(info.SavepointHistory, historyMaxCount)
	}
}
