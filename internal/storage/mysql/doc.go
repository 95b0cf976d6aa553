// Package mysql persists accounts, plugin registry entries and deployment
// records in MySQL. Schema changes ship as embedded migrations.
package mysql
