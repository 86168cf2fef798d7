// Package housekeeping deletes downloaded audio that is no longer needed.
package housekeeping
