// Package cv defines the curriculum vitae document served by the site, the
// partial-update Patch applied by the admin panel, and the default document
// the store seeds itself with.
package cv
