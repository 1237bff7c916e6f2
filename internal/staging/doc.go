// Package staging reclaims per-job working directories left behind by
// interrupted or crashed merge jobs.
package staging
