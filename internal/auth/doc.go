// Package auth issues and verifies the signed tokens observers present
// when they open the notification socket.
//
// Devices do not use this package: they authenticate with their opaque
// API key at connect time. Observer tokens are HS256 JWTs whose subject
// is the user id and whose scope limits them to the notification stream.
package auth
