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
// +kubebuilder:docs-gen:collapse=Apache License

package v1beta1

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/webhook"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"
)

// +kubebuilder:docs-gen:collapse=Go imports

var log = logf.Log.WithName("webhook")

// flinkDeploymentDefaulter implements webhook.CustomDefaulter.
type flinkDeploymentDefaulter struct{}

// flinkDeploymentValidator implements webhook.CustomValidator.
type flinkDeploymentValidator struct {
	validator Validator
	// Reports whether the service account may manage config maps.
	permissionCheck func(saName string, namespace string) (bool, error)
}

// SetupWebhookWithManager adds webhook for FlinkDeployment.
func (deployment *FlinkDeployment) SetupWebhookWithManager(mgr ctrl.Manager) error {
	return ctrl.NewWebhookManagedBy(mgr).
		For(deployment).
		WithDefaulter(&flinkDeploymentDefaulter{}).
		WithValidator(&flinkDeploymentValidator{
			validator:       Validator{},
			permissionCheck: saHasConfigMapUpdatePermissions,
		}).
		Complete()
}

// +kubebuilder:webhook:path=/mutate-flink-apache-org-v1beta1-flinkdeployment,admissionReviewVersions=v1,sideEffects=None,mutating=true,failurePolicy=fail,groups=flink.apache.org,resources=flinkdeployments,verbs=create;update,versions=v1beta1,name=mflinkdeployment.flink.apache.org

var _ webhook.CustomDefaulter = &flinkDeploymentDefaulter{}

// Default implements webhook.CustomDefaulter.
func (d *flinkDeploymentDefaulter) Default(ctx context.Context, obj runtime.Object) error {
	deployment, ok := obj.(*FlinkDeployment)
	if !ok {
		return nil
	}
	log.V(1).Info("default", "name", deployment.Name, "original", deployment.Spec)
	_SetDefault(deployment)
	log.V(1).Info("default", "name", deployment.Name, "augmented", deployment.Spec)
	return nil
}

// +kubebuilder:webhook:path=/validate-flink-apache-org-v1beta1-flinkdeployment,admissionReviewVersions=v1,sideEffects=None,mutating=false,failurePolicy=fail,groups=flink.apache.org,resources=flinkdeployments,verbs=create;update,versions=v1beta1,name=vflinkdeployment.flink.apache.org

var _ webhook.CustomValidator = &flinkDeploymentValidator{}

// ValidateCreate implements webhook.CustomValidator.
func (v *flinkDeploymentValidator) ValidateCreate(ctx context.Context, obj runtime.Object) (admission.Warnings, error) {
	deployment, ok := obj.(*FlinkDeployment)
	if !ok {
		return nil, nil
	}
	log.Info("Validate create", "name", deployment.Name)
	if err := v.validator.ValidateCreate(deployment); err != nil {
		return nil, err
	}
	return v.warnings(deployment), nil
}

// ValidateUpdate implements webhook.CustomValidator.
func (v *flinkDeploymentValidator) ValidateUpdate(ctx context.Context, oldObj, newObj runtime.Object) (admission.Warnings, error) {
	deployment, ok := newObj.(*FlinkDeployment)
	if !ok {
		return nil, nil
	}
	oldDeployment, ok := oldObj.(*FlinkDeployment)
	if !ok {
		return nil, nil
	}
	log.Info("Validate update", "name", deployment.Name)
	if err := v.validator.ValidateUpdate(oldDeployment, deployment); err != nil {
		return nil, err
	}
	return v.warnings(deployment), nil
}

// ValidateDelete implements webhook.CustomValidator.
func (v *flinkDeploymentValidator) ValidateDelete(ctx context.Context, obj runtime.Object) (admission.Warnings, error) {
	return nil, nil
}

// Last-state upgrades need the job manager to write HA config maps.
func (v *flinkDeploymentValidator) warnings(deployment *FlinkDeployment) admission.Warnings {
	var job = deployment.Spec.Job
	if job == nil || job.UpgradeMode != UpgradeModeLastState || v.permissionCheck == nil {
		return nil
	}
	var sa = deployment.Spec.ServiceAccount
	if sa == "" {
		sa = "default"
	}
	allowed, err := v.permissionCheck(sa, deployment.Namespace)
	if err != nil {
		return admission.Warnings{fmt.Sprintf("could not verify config map permissions of service account %s: %v", sa, err)}
	}
	if !allowed {
		return admission.Warnings{fmt.Sprintf("service account %s cannot update config maps, last-state upgrades will fail", sa)}
	}
	return nil
}
