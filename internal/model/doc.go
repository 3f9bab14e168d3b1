// Package model defines the shared data types of the NBBO pipeline.
//
// Conventions:
//   - Timestamps: uint64 integer-encoded YYYYMMDDHHMMSSmmm (see mstime)
//   - Prices and sizes on finalized rows: float32, matching the cache
//     and output schemas
//   - Missing log-return: float32 NaN, never zero
package model
