// Package api exposes the router, the plugin registry and account state over
// a REST interface built on gin.
package api
