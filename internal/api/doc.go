// Package api serves the async manga HTTP surface: story submission, task
// status and listing, panel regeneration, cancellation, the admin
// maintenance triggers and the progress websockets.
package api
