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

package pipeline

// Stage identifies one step of the deployment pipeline.
type Stage string

const (
	StageLint         Stage = "lint"
	StageTest         Stage = "test"
	StageSecurityScan Stage = "security-scan"
	StageBuild        Stage = "build"
	StagePublish      Stage = "publish"
	StageDeploy       Stage = "deploy"
)

// StageOrder is the fixed execution order. Every run walks it front to
// back and stops at the first failure.
var StageOrder = []Stage{
	StageLint,
	StageTest,
	StageSecurityScan,
	StageBuild,
	StagePublish,
	StageDeploy,
}

// Transient reports whether failures of this stage may be caused by
// external flakiness and are worth retrying. Deterministic stages are
// never retried: rerunning a failed lint or unit test on the same
// change yields the same result.
func (s Stage) Transient() bool {
	return s == StageSecurityScan || s == StagePublish
}

// FailureKind maps a stage to the failure classification its natural
// failures carry. Timeouts and cancellations override this.
func (s Stage) FailureKind() FailureKind {
	switch s {
	case StageLint:
		return KindLint
	case StageTest:
		return KindTest
	case StageSecurityScan:
		return KindScan
	case StageBuild:
		return KindBuild
	case StagePublish:
		return KindPublish
	case StageDeploy:
		return KindDeploy
	default:
		return KindNone
	}
}
