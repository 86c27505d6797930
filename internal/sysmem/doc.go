// Package sysmem probes host memory for default cache sizing and pressure detection.
package sysmem
