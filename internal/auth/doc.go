// Package auth issues and validates the HMAC-signed JWTs that guard the
// admin HTTP surface.
package auth
