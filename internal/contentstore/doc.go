// Package contentstore persists the single CV document as a JSON file and
// keeps a bounded set of point-in-time backups next to it.
//
// Every write goes through the same protocol: copy the current live file into
// the backup set, prune backups beyond the retention limit, stamp updatedAt,
// then atomically replace the live file. A live file that is missing or does
// not parse is replaced with the default document on the next read; the bad
// bytes survive as a backup.
package contentstore
