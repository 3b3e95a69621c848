package token

// Package token implements short-lived, scope- and version-bound
// capability tokens: three dot-separated URL-safe base64 segments,
// keyId.payloadJSON.signature, where the signature is an HMAC-SHA256 of
// the payload under the secret for keyId. Revocation is by version: the
// verifier compares the embedded job version against the live one, so no
// blacklist or token storage is needed.
