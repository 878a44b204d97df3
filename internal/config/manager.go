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

package config

import (
	"fmt"

	"github.com/imdario/mergo"
)

// Manager resolves the effective Flink configuration of resources.
type Manager struct {
	operator *OperatorConfig
}

func NewManager(operator *OperatorConfig) *Manager {
	return &Manager{operator: operator}
}

func (m *Manager) Operator() *OperatorConfig {
	return m.operator
}

// DeployConfig returns the operator defaults overridden by the resource's own
// configuration, with the cluster coordinates filled in.
func (m *Manager) DeployConfig(namespace, name string, specConf map[string]string) (Configuration, error) {
	conf := Configuration(specConf).Clone()
	if err := mergo.Merge(&conf, m.operator.FlinkConfiguration.Clone()); err != nil {
		return nil, fmt.Errorf("failed to merge default flink configuration: %w", err)
	}
	conf[ClusterID] = name
	conf[Namespace] = namespace
	return conf, nil
}
