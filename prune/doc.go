// Package prune removes indexed documents whose vendor records no longer
// exist.
//
// Deletion is biased toward false negatives. A partition whose listing
// fails is never trusted, a pass where every partition failed deletes
// nothing, and a pass that would delete too large a share of the eligible
// documents is treated as a vendor degradation and aborted.
package prune
