// Package redis stores wallet accounts, registry entries and deployment
// records in Redis. Account commits run inside a WATCH/MULTI transaction on
// the account key so concurrent routers sharing a Redis instance still admit
// at most one action per nonce.
package redis
