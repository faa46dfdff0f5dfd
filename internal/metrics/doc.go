// Package metrics provides internal metrics collection for the call core.
// This package is internal and should not be imported by external projects.
package metrics
