// Package cache provides an optional Redis (or Valkey) hot store for the
// newest sensor value per device, so dashboards polling the latest reading
// do not hit SQL. The SQL store stays authoritative; a cold or unavailable
// cache only costs a fallback query.
package cache
