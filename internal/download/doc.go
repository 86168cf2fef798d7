// Package download retrieves remote media files to local storage.
//
// A Downloader retries transient fetch faults a fixed number of times with
// a constant backoff between attempts and gives up immediately on
// permanent faults. Bytes are written to a ".part" file that is renamed
// into place only after the full body was received.
package download
