// Package registry turns on-disk package definitions into servable artifact
// sets.
//
// Each immediate subdirectory of the packages directory holds one definition:
// a package.yaml manifest naming files and whole folder trees, plus optional
// descriptive metadata. Build resolves every definition into an in-memory
// Package owning copies of all artifact bytes; Registry wraps the resolved
// set behind an explicit wholesale Rebuild and assigns the download indices
// advertised to clients.
package registry
