// Package module wires command handlers to the services they need and
// hands the assembled registry to the router. Registration is static:
// the app calls Commands once at startup; there is no runtime loading.
package module
