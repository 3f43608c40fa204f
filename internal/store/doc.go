// Package store groups the persistence backends for the edition registry and
// the publication/recipient directory. The postgres subpackage is the
// production implementation; memory backs tests and local runs.
package store
