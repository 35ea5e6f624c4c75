// Package core defines the shared language of the leapref system.
//
// This package contains:
//   - Catalog metadata (Catalog, Table, Column, Key, ForeignKey)
//   - Contexts and their fallback chain
//   - The error taxonomy shared by every layer
//   - Collaborator interfaces (Transport, Renderer)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
