// Package command turns the free-text commands typed in the browser into
// device op sequences.
//
// A command string is parsed once at the boundary into either a Config
// (a known kind with a parameter) or a Raw (anything else, capture-only).
// Translate then maps it to zero or one configuration op followed by the
// fixed flush and read-back pair.
//
// The device keeps its capture buffer independently of the request that
// fills it: the flush drains whatever the previous cycle captured and the
// read-back returns a capture taken before the current configuration was
// applied. Results therefore lag configuration changes by one cycle. This
// is how the instrument behaves and callers are expected to account for it.
package command
