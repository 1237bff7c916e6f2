// Package monitor watches the merge engine and the upload backlog and raises
// alerts when something looks wrong.
//
// The workflow manager reports every stage start/end, job result and stuck
// job through Record. From those events the monitor keeps a sliding window
// for the job error rate, flags stages slower than the configured
// threshold, and feeds Prometheus collectors. A periodic check adds state the
// events cannot show: merge sessions stuck collecting uploads, free space on
// the staging disk, and row counts by status. Alerts are logged with an
// alert field, deduplicated per name with a token bucket, and forwarded to
// the notification service.
package monitor
