// Package api exposes the admin HTTP surface: health, on-demand compensation
// and recovery sweeps, and a producer helper for enqueueing and inspecting
// messages. Every /admin route requires an admin bearer token.
package api
