/*
Package ports defines the driven ports (interfaces) of a docket session.

These interfaces decouple the session controller from external implementations,
allowing it to work with various backends, snapshot stores and lock providers.

# Key Interfaces

  - Backend: The server that owns the question catalog, answer validation, path
    generation, document analysis and the final upload.
  - Uploader: Optional Backend capability for staging a local file.
  - SnapshotStore: Responsible for persisting and loading session Snapshots.
  - DistributedLocker: Provides distributed locking for handling concurrent session access.
*/
package ports
