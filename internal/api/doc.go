// Package api implements the JSON HTTP upload API for KNX projects.
//
// This package provides:
//   - POST /api/v1/projects/parse: the full cross-referenced model
//   - POST /api/v1/projects/logical-devices: devices with their group addresses
//   - GET /api/v1/health: version and dependency checks
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// Uploads are multipart/form-data with a "file" field holding a .knxproj
// archive and optional "password" and "language" fields. Parse failures
// map to {"status","code","message"} bodies; problems with the uploaded
// project itself are reported as 422.
package api
