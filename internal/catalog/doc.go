// Package catalog defines the shared domain model for the maintainer
// service: batch jobs and their lifecycle, the progress event union
// pushed to observers, the active-job pointer, and the narrow interfaces
// through which the core consumes archive metadata and file inventories.
package catalog
