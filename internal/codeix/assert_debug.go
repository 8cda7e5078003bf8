//go:build kilndebug

package codeix

// debugAsserts enables identity and bounds checks on every header and
// dispatch access. Release builds compile them out entirely.
const debugAsserts = true
