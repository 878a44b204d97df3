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

package flink

// Converter which builds the Kubernetes resources of a Flink cluster from a
// FlinkDeployment spec and its effective configuration.

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	v1beta1 "github.com/spotify/flink-deployment-operator/apis/flinkdeployment/v1beta1"
	"github.com/spotify/flink-deployment-operator/internal/config"
	"github.com/spotify/flink-deployment-operator/internal/util"
)

const (
	ComponentJobManager  = "jobmanager"
	ComponentTaskManager = "taskmanager"

	flinkConfFileName = "flink-conf.yaml"
	flinkConfDir      = "/opt/flink/conf"
	flinkConfVolume   = "flink-config-volume"

	DefaultRestPort = 8081
	defaultRPCPort  = 6123
	defaultBlobPort = 6124

	// Labels Flink puts on the config maps holding its HA metadata.
	haConfigMapTypeLabel = "configmap-type"
	haConfigMapTypeValue = "high-availability"

	// Share of the container memory given to the Flink process.
	memoryProcessRatio = 80
)

var terminationGracePeriodSeconds int64 = 60

func getJobManagerName(clusterName string) string {
	return clusterName
}

func getTaskManagerName(clusterName string) string {
	return clusterName + "-taskmanager"
}

func getRestServiceName(clusterName string) string {
	return clusterName + "-rest"
}

func getConfigMapName(clusterName string) string {
	return "flink-config-" + clusterName
}

func getClusterLabels(clusterName string) map[string]string {
	return map[string]string{
		"app":  clusterName,
		"type": "flink-native-kubernetes",
	}
}

func getComponentLabels(clusterName string, component string) map[string]string {
	return mergeLabels(getClusterLabels(clusterName), map[string]string{
		"component": component,
	})
}

func getHaConfigMapLabels(clusterName string) map[string]string {
	return map[string]string{
		"app":                clusterName,
		haConfigMapTypeLabel: haConfigMapTypeValue,
	}
}

func mergeLabels(labels1 map[string]string, labels2 map[string]string) map[string]string {
	var mergedLabels = make(map[string]string)
	for k, v := range labels1 {
		mergedLabels[k] = v
	}
	for k, v := range labels2 {
		mergedLabels[k] = v
	}
	return mergedLabels
}

// GetRestURL returns the base URL of the job manager REST API.
func GetRestURL(conf config.Configuration) string {
	port := conf.GetString(config.RestPort, strconv.Itoa(DefaultRestPort))
	return fmt.Sprintf("http://%s.%s:%s",
		getRestServiceName(conf[config.ClusterID]), conf[config.Namespace], port)
}

// GetTaskManagerReplicas returns the task manager count of a standalone
// cluster: the explicit replicas or enough task managers to host every slot
// of the job.
func GetTaskManagerReplicas(spec *v1beta1.FlinkDeploymentSpec, conf config.Configuration) (int32, error) {
	if spec.TaskManager.Replicas != nil {
		return *spec.TaskManager.Replicas, nil
	}
	parallelism := int32(1)
	if spec.Job != nil && spec.Job.Parallelism > 0 {
		parallelism = spec.Job.Parallelism
	}
	slots, err := conf.GetInt(config.NumberOfTaskSlots, 1)
	if err != nil {
		return 0, err
	}
	if slots < 1 {
		return 0, fmt.Errorf("%s must be positive, got %d", config.NumberOfTaskSlots, slots)
	}
	return (parallelism + int32(slots) - 1) / int32(slots), nil
}

// Gets Flink properties
func getFlinkProperties(properties map[string]string) string {
	var keys = make([]string, 0, len(properties))
	for k := range properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var builder strings.Builder
	for _, key := range keys {
		builder.WriteString(fmt.Sprintf("%s: %s\n", key, properties[key]))
	}
	return builder.String()
}

func calProcessMemorySize(resources corev1.ResourceRequirements) string {
	memory, ok := util.UpperBoundedResourceList(resources)[corev1.ResourceMemory]
	if !ok {
		return ""
	}
	return strconv.FormatInt(memory.Value()*memoryProcessRatio/100, 10) + "b"
}

func toOwnerReference(owner *v1beta1.FlinkDeployment) metav1.OwnerReference {
	return metav1.OwnerReference{
		APIVersion:         v1beta1.GroupVersion.String(),
		Kind:               string(v1beta1.KindFlinkDeployment),
		Name:               owner.Name,
		UID:                owner.UID,
		Controller:         &[]bool{true}[0],
		BlockOwnerDeletion: &[]bool{false}[0],
	}
}

// Gets the flink-conf.yaml of the cluster.
func newConfigMap(owner *v1beta1.FlinkDeployment, spec *v1beta1.FlinkDeploymentSpec, conf config.Configuration) *corev1.ConfigMap {
	var clusterName = owner.Name
	var flinkProps = conf.Clone()

	// Properties which should be provided from real deployed environment.
	flinkProps["jobmanager.rpc.address"] = getRestServiceName(clusterName)
	flinkProps["jobmanager.rpc.port"] = strconv.Itoa(defaultRPCPort)
	flinkProps["blob.server.port"] = strconv.Itoa(defaultBlobPort)
	if _, ok := flinkProps[config.RestPort]; !ok {
		flinkProps[config.RestPort] = strconv.Itoa(DefaultRestPort)
	}
	if _, ok := flinkProps["jobmanager.memory.process.size"]; !ok {
		if size := calProcessMemorySize(spec.JobManager.Resources); size != "" {
			flinkProps["jobmanager.memory.process.size"] = size
		}
	}
	if _, ok := flinkProps["taskmanager.memory.process.size"]; !ok {
		if size := calProcessMemorySize(spec.TaskManager.Resources); size != "" {
			flinkProps["taskmanager.memory.process.size"] = size
		}
	}
	if spec.Job != nil {
		flinkProps["pipeline.jars"] = spec.Job.JarURI
		if spec.Job.Parallelism > 0 {
			flinkProps[config.ParallelismDefault] = strconv.Itoa(int(spec.Job.Parallelism))
		}
	}

	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:       owner.Namespace,
			Name:            getConfigMapName(clusterName),
			OwnerReferences: []metav1.OwnerReference{toOwnerReference(owner)},
			Labels:          getClusterLabels(clusterName),
		},
		Data: map[string]string{
			flinkConfFileName: getFlinkProperties(flinkProps),
		},
	}
}

func newFlinkConfVolume(clusterName string) (corev1.Volume, corev1.VolumeMount) {
	volume := corev1.Volume{
		Name: flinkConfVolume,
		VolumeSource: corev1.VolumeSource{
			ConfigMap: &corev1.ConfigMapVolumeSource{
				LocalObjectReference: corev1.LocalObjectReference{Name: getConfigMapName(clusterName)},
			},
		},
	}
	mount := corev1.VolumeMount{Name: flinkConfVolume, MountPath: flinkConfDir}
	return volume, mount
}

func newJobManagerArgs(spec *v1beta1.FlinkDeploymentSpec, conf config.Configuration) []string {
	if spec.Mode == v1beta1.DeploymentModeNative {
		return []string{"/opt/flink/bin/kubernetes-jobmanager.sh", "kubernetes-application"}
	}
	args := []string{"standalone-job"}
	if spec.Job == nil {
		return []string{"jobmanager"}
	}
	if spec.Job.EntryClass != "" {
		args = append(args, "--job-classname", spec.Job.EntryClass)
	}
	if jobID := conf[config.PipelineFixedJobID]; jobID != "" {
		args = append(args, "--job-id", jobID)
	}
	if savepoint := conf[config.SavepointPath]; savepoint != "" {
		args = append(args, "--fromSavepoint", savepoint)
	}
	if spec.Job.AllowNonRestoredState != nil && *spec.Job.AllowNonRestoredState {
		args = append(args, "--allowNonRestoredState")
	}
	return append(args, spec.Job.Args...)
}

// Gets the desired JobManager Deployment.
func newJobManagerDeployment(owner *v1beta1.FlinkDeployment, spec *v1beta1.FlinkDeploymentSpec, conf config.Configuration) *appsv1.Deployment {
	var clusterName = owner.Name
	var podLabels = getComponentLabels(clusterName, ComponentJobManager)
	var replicas = spec.JobManager.Replicas
	if replicas < 1 {
		replicas = 1
	}
	restPort, _ := conf.GetInt(config.RestPort, DefaultRestPort)
	volume, mount := newFlinkConfVolume(clusterName)

	container := corev1.Container{
		Name:            "flink-main-container",
		Image:           spec.Image,
		ImagePullPolicy: spec.ImagePullPolicy,
		Args:            newJobManagerArgs(spec, conf),
		Ports: []corev1.ContainerPort{
			{Name: "rest", ContainerPort: int32(restPort)},
			{Name: "rpc", ContainerPort: defaultRPCPort},
			{Name: "blob", ContainerPort: defaultBlobPort},
		},
		Resources:    spec.JobManager.Resources,
		VolumeMounts: []corev1.VolumeMount{mount},
		ReadinessProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				TCPSocket: &corev1.TCPSocketAction{Port: intstr.FromInt(restPort)},
			},
			PeriodSeconds: 5,
		},
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:       owner.Namespace,
			Name:            getJobManagerName(clusterName),
			OwnerReferences: []metav1.OwnerReference{toOwnerReference(owner)},
			Labels:          podLabels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: podLabels},
			Strategy: appsv1.DeploymentStrategy{Type: appsv1.RecreateDeploymentStrategyType},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: podLabels},
				Spec: corev1.PodSpec{
					Containers:                    []corev1.Container{container},
					Volumes:                       []corev1.Volume{volume},
					ServiceAccountName:            spec.ServiceAccount,
					TerminationGracePeriodSeconds: &terminationGracePeriodSeconds,
				},
			},
		},
	}
}

// Gets the desired TaskManager Deployment of a standalone cluster.
func newTaskManagerDeployment(owner *v1beta1.FlinkDeployment, spec *v1beta1.FlinkDeploymentSpec, replicas int32) *appsv1.Deployment {
	var clusterName = owner.Name
	var podLabels = getComponentLabels(clusterName, ComponentTaskManager)
	volume, mount := newFlinkConfVolume(clusterName)

	container := corev1.Container{
		Name:            "flink-main-container",
		Image:           spec.Image,
		ImagePullPolicy: spec.ImagePullPolicy,
		Args:            []string{"taskmanager"},
		Resources:       spec.TaskManager.Resources,
		VolumeMounts:    []corev1.VolumeMount{mount},
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:       owner.Namespace,
			Name:            getTaskManagerName(clusterName),
			OwnerReferences: []metav1.OwnerReference{toOwnerReference(owner)},
			Labels:          podLabels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: podLabels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: podLabels},
				Spec: corev1.PodSpec{
					Containers:                    []corev1.Container{container},
					Volumes:                       []corev1.Volume{volume},
					ServiceAccountName:            spec.ServiceAccount,
					TerminationGracePeriodSeconds: &terminationGracePeriodSeconds,
				},
			},
		},
	}
}

// Gets the desired JobManager service.
func newJobManagerService(owner *v1beta1.FlinkDeployment, conf config.Configuration) *corev1.Service {
	var clusterName = owner.Name
	restPort, _ := conf.GetInt(config.RestPort, DefaultRestPort)
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:       owner.Namespace,
			Name:            getRestServiceName(clusterName),
			OwnerReferences: []metav1.OwnerReference{toOwnerReference(owner)},
			Labels:          getClusterLabels(clusterName),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: getComponentLabels(clusterName, ComponentJobManager),
			Ports: []corev1.ServicePort{
				{Name: "rest", Port: int32(restPort), TargetPort: intstr.FromString("rest")},
				{Name: "rpc", Port: defaultRPCPort, TargetPort: intstr.FromString("rpc")},
				{Name: "blob", Port: defaultBlobPort, TargetPort: intstr.FromString("blob")},
			},
		},
	}
}
