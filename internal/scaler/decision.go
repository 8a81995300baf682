/*
Copyright 2025 The shiplift Authors

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

// Package scaler runs the closed-loop replica autoscaler: one control
// loop per managed service, each sampling observed load and steering
// the replica count toward the configured target utilization.
package scaler

import "math"

// DesiredReplicas computes the replica count that would bring per-replica
// load back to target, proportional to the current count, clamped to
// [min, max].
func DesiredReplicas(observed, target float64, current, min, max int) int {
	if current < 1 {
		current = 1
	}
	desired := int(math.Round(observed / target * float64(current)))
	if desired < min {
		return min
	}
	if desired > max {
		return max
	}
	return desired
}
