// Package generation defines the boundary between the manga pipeline and the
// external AI services that write scenes and draw panels.
//
// SceneSplitter turns a story into scene descriptions. ImageGenerator opens
// an ImageSession per task; a session keeps the conversation history so that
// consecutive panels stay visually consistent. The prompt builders and the
// user-facing error messages live here too, so every backend shares them.
package generation
