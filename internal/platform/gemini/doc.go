// Package gemini implements the generation interfaces on Google's Gemini API.
//
// This package is an infrastructure adapter: it translates scene splitting
// and panel drawing into google.golang.org/genai calls without exposing
// the client library to the rest of the application.
//
// Key components:
//
// 1. Client:
//   - Implements generation.SceneSplitter with a JSON response schema
//   - Implements generation.ImageGenerator by opening drawing sessions
//
// 2. Sessions:
//   - Keep the conversation history of one task, so every panel is drawn
//     with the previous ones in view
//   - Attach reference images as inline bytes
//
// 3. Error Handling:
//   - Bounds every model call with a per-attempt timeout
//   - Retries rate limits, server errors and timeouts with exponential
//     backoff; other failures are returned at once
//   - Translates API errors into generation.Error values
package gemini
