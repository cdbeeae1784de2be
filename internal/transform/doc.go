// Package transform turns raw log lines into OCSF events. A Handle owns the
// compiled script and supports hot reload; the converter maps records to and
// from Starlark values; Engine composes both and adds ordered, bounded
// concurrent batch execution.
package transform
