// Package store defines the persistence interfaces a crawl run depends on:
// BlobStore for artifact bytes (headers, bodies, rendered HTML,
// screenshots, sink files) and ProgressRepository for job-run/site-stats
// bookkeeping consumed by the admin surface. Concrete implementations
// (localblob, gcsblob, and the SQL-backed progress repositories) live in
// their own packages; this package stays free of database drivers or
// concrete clients.
package store
