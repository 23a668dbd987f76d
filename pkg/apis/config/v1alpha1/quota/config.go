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

package quota

import (
	"k8s.io/apimachinery/pkg/api/resource"
)

// Config is the serialized configuration of the VRAM quota shim. Unset
// fields leave the corresponding built-in default or environment setting
// in effect.
// +k8s:deepcopy-gen=true
type Config struct {
	// Limit is the maximum amount of device memory the process may have
	// allocated at any time.
	// +optional
	// +kubebuilder:example="3Gi"
	Limit *resource.Quantity `json:"limit,omitempty"`
	// Prefetch enables best-effort migration hints for new allocations.
	// +optional
	Prefetch *bool `json:"prefetch,omitempty"`
	// Device is the device id used for migration hints. If omitted the
	// current device of the runtime is used.
	// +optional
	Device *int `json:"device,omitempty"`
	// Disabled turns all interception into plain pass-through.
	// +optional
	Disabled *bool `json:"disabled,omitempty"`
}
