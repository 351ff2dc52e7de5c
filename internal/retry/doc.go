// Package retry decides whether a failed unit of work should be reattempted
// and how long to wait before doing so.
package retry
