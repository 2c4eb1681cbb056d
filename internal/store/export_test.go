// Export internal functions for testing
package store

// ExpiresAt exports expiresAt for testing
var ExpiresAt = expiresAt

// Fragmentation exports fragmentation for testing
var Fragmentation = fragmentation
