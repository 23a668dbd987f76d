// Copyright The NRI Plugins Authors. All Rights Reserved.
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

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/containers/vram-quota/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/containers/vram-quota/pkg/apis/config/v1alpha1/log"
	"github.com/containers/vram-quota/pkg/apis/config/v1alpha1/quota"
)

const (
	// APIVersion is the API version of configuration files.
	APIVersion = "config.vram-quota.io/v1alpha1"
	// Kind is the kind of configuration files.
	Kind = "VRAMQuota"
)

// VRAMQuota represents a configuration file for the VRAM quota shim.
type VRAMQuota struct {
	metav1.TypeMeta `json:",inline"`

	Spec VRAMQuotaSpec `json:"spec"`
}

// VRAMQuotaSpec describes the shim configuration.
type VRAMQuotaSpec struct {
	quota.Config `json:",inline"`
	// +optional
	Log log.Config `json:"log,omitempty"`
	// +optional
	Instrumentation instrumentation.Config `json:"instrumentation,omitempty"`
}
