// Package packager validates package definitions before publication. It
// resolves the packages directory with the same code path the server uses,
// so a definition that passes here is guaranteed to serve.
package packager
