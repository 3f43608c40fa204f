// Package courier defines the core types, collaborator interfaces, and error
// taxonomy shared by the edition delivery subsystems: the publication
// pipeline, the batch orchestrator, the stores, and the delivery channels.
package courier
