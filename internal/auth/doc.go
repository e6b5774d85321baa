// Package auth protects the navilinkd API.
//
// There is a single operator account configured under security.admin. Its
// password is stored as an Argon2id PHC string (generate one with
// `navilinkd -hash-password`). A successful login returns a short-lived
// HS256 JWT that the API middleware validates on every request without
// any database lookup.
package auth
