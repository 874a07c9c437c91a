// Package core provides the business logic for vehicle market data.
//
// This package holds all domain logic independent of storage and transport.
// It is used by the web server, the import CLI and tests without change.
//
// # Import Pipeline
//
// [Importer] turns '|'-delimited 25-field feed lines into vehicles, dealers
// and listings:
//
//  1. [ParseFeedLine] validates a line; a bad field count, year, price or
//     mileage skips the row with one [SkipReason]
//  2. the dealer is resolved by its six identity fields ([DealerKey]),
//     the vehicle by VIN, first write wins
//  3. listings are buffered and flushed to the store every batch size rows
//
// Row problems only ever show up in [ImportStats]. Store failures abort the
// run and are returned as errors.
//
// # Valuation Engine
//
// [Engine] retrieves comparables for a (year, make, model), filters price
// outliers, estimates a price, rounds it to the nearest 100 and returns up
// to [MaxComparables] supporting listings. The outlier filter, estimator
// and ranking are chosen by [Policy]; see policy.go.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with support codes
// by [MapError]:
//
//   - VAL001: request validation
//   - IMP001-IMP005: import runs and feeds
//   - DB001-DB004: database availability and schema
//   - REQ001-REQ002: cancelled or timed out requests
//   - RATE001: too many API requests
package core
