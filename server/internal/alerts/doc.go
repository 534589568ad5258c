// Package alerts turns threshold breaches into persisted Alert records and
// manages their lifecycle. An alert is created ACTIVE with a snapshot of the
// reading and the rule it broke, and moves to RESOLVED only through an
// explicit UpdateAlertStatus call.
package alerts
