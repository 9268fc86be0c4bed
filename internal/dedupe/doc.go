// Package dedupe provides a bounded TTL cache of keys. The notifier uses it
// to collapse bursts of resync requests for one wallet into a single job.
package dedupe
