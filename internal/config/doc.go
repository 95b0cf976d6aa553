// Package config loads the JSON configuration shared by walletd and the
// deployplugins command.
package config
