// Package auth issues and verifies the bearer tokens that guard the
// Homie Core HTTP API.
//
// There is no user store. An operator mints a token for a named subject
// with "homiecore -issue-token", and the API trusts any token whose HS256
// signature verifies against the configured secret. Two roles exist:
// viewers can read the device model, admins can also read the discovery
// journal.
package auth
