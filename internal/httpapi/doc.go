package httpapi

// Package httpapi is the thin HTTP surface over the job core: admission
// endpoints, the server-sent-events progress stream, capability token
// minting, and artifact downloads. Identity resolution happens upstream;
// handlers trust the X-Owner header or a presented capability token.
