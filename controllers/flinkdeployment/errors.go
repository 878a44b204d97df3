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
	"errors"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	v1beta1 "github.com/spotify/flink-deployment-operator/apis/flinkdeployment/v1beta1"
)

// ValidationError reports a malformed desired spec. The tick falls back to the
// last reconciled spec.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// FatalDeploymentError reports a deployment that cannot make progress with
// the current inputs, e.g. a last-state upgrade without HA metadata.
type FatalDeploymentError struct {
	Reason  string
	Message string
}

func (e *FatalDeploymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// TransientRuntimeError wraps a failed call to the job runtime or the
// resource store. The tick is retried by the work queue.
type TransientRuntimeError struct {
	Op  string
	Err error
}

func (e *TransientRuntimeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientRuntimeError) Unwrap() error {
	return e.Err
}

func transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var fatal *FatalDeploymentError
	if errors.As(err, &fatal) {
		return err
	}
	return &TransientRuntimeError{Op: op, Err: err}
}

// IsFatal tells whether retrying the tick with the same inputs is pointless.
func IsFatal(err error) bool {
	var fatal *FatalDeploymentError
	var serialization *v1beta1.SerializationError
	return errors.As(err, &fatal) || errors.As(err, &serialization)
}

// toTerminal stops the work queue from retrying fatal errors.
func toTerminal(err error) error {
	if IsFatal(err) {
		return reconcile.TerminalError(err)
	}
	return err
}
