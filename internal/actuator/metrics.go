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

// Package actuator emits the Prometheus metrics through which scaling
// decisions and pipeline progress are observable from the outside.
package actuator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsEmitter owns every metric the core exposes. One instance is
// shared by the orchestrator and all autoscaler loops.
type MetricsEmitter struct {
	desiredReplicas *prometheus.GaugeVec
	currentReplicas *prometheus.GaugeVec
	lastObserved    *prometheus.GaugeVec

	scaleFailures *prometheus.CounterVec
	scaleAlert    *prometheus.GaugeVec
	rollbackAlert *prometheus.GaugeVec

	stageTransitions *prometheus.CounterVec
	runsCompleted    *prometheus.CounterVec
}

// NewMetricsEmitter creates an emitter registered against reg.
func NewMetricsEmitter(reg prometheus.Registerer) *MetricsEmitter {
	e := &MetricsEmitter{
		desiredReplicas: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shiplift_desired_replicas",
			Help: "Most recently issued desired replica count per service.",
		}, []string{"service"}),
		currentReplicas: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shiplift_current_replicas",
			Help: "Current replica count tracked by the autoscaler per service.",
		}, []string{"service"}),
		lastObserved: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shiplift_observed_load",
			Help: "Last observed load sample per service.",
		}, []string{"service"}),
		scaleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shiplift_scale_failures_total",
			Help: "Failed scale commands per service.",
		}, []string{"service"}),
		scaleAlert: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shiplift_scale_alert",
			Help: "Standing alert (1) when scale commands fail repeatedly for a service.",
		}, []string{"service"}),
		rollbackAlert: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shiplift_rollback_alert",
			Help: "Fatal operational alert (1) when a rollback failed and manual intervention is required.",
		}, []string{"service"}),
		stageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shiplift_stage_transitions_total",
			Help: "Pipeline stage transitions by stage and resulting status.",
		}, []string{"stage", "status"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shiplift_pipeline_runs_total",
			Help: "Completed pipeline runs by terminal status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		e.desiredReplicas,
		e.currentReplicas,
		e.lastObserved,
		e.scaleFailures,
		e.scaleAlert,
		e.rollbackAlert,
		e.stageTransitions,
		e.runsCompleted,
	)
	return e
}

// EmitDesiredReplicas records the desired count issued for a service.
func (e *MetricsEmitter) EmitDesiredReplicas(service string, n int) {
	e.desiredReplicas.WithLabelValues(service).Set(float64(n))
}

// EmitCurrentReplicas records the replica count tracked for a service.
func (e *MetricsEmitter) EmitCurrentReplicas(service string, n int) {
	e.currentReplicas.WithLabelValues(service).Set(float64(n))
}

// EmitObservedLoad records the latest load sample for a service.
func (e *MetricsEmitter) EmitObservedLoad(service string, value float64) {
	e.lastObserved.WithLabelValues(service).Set(value)
}

// IncScaleFailure counts one failed scale command.
func (e *MetricsEmitter) IncScaleFailure(service string) {
	e.scaleFailures.WithLabelValues(service).Inc()
}

// SetScaleAlert raises or clears the standing scale-failure alert.
func (e *MetricsEmitter) SetScaleAlert(service string, on bool) {
	e.scaleAlert.WithLabelValues(service).Set(boolToGauge(on))
}

// SetRollbackAlert raises or clears the fatal rollback-failure alert.
func (e *MetricsEmitter) SetRollbackAlert(service string, on bool) {
	e.rollbackAlert.WithLabelValues(service).Set(boolToGauge(on))
}

// IncStageTransition counts one stage transition.
func (e *MetricsEmitter) IncStageTransition(stage, status string) {
	e.stageTransitions.WithLabelValues(stage, status).Inc()
}

// IncRunCompleted counts one run reaching a terminal status.
func (e *MetricsEmitter) IncRunCompleted(status string) {
	e.runsCompleted.WithLabelValues(status).Inc()
}

func boolToGauge(on bool) float64 {
	if on {
		return 1
	}
	return 0
}
