//go:build !kilndebug

package codeix

const debugAsserts = false
